package vad

import "math"

// Classifier labels a single frame of native-rate PCM as speech or not.
type Classifier interface {
	IsSpeech(frame []int16, sampleRate int) bool
}

// resetter is implemented by classifiers that keep state across frames.
type resetter interface {
	Reset()
}

// EnergyParams configures EnergyClassifier.
type EnergyParams struct {
	// SpeechThreshold is the smoothed RMS level (0.0 to 1.0) at which a
	// quiet stream is classified as speech.
	SpeechThreshold float64
	// SilenceThreshold is the level below which a speaking stream is
	// classified as silence. Must be <= SpeechThreshold.
	SilenceThreshold float64
	// Smoothing is the weight of the newest frame in the exponential
	// volume average.
	Smoothing float64
}

// DefaultEnergyParams returns thresholds tuned for 8 kHz telephone audio.
func DefaultEnergyParams() EnergyParams {
	return EnergyParams{
		SpeechThreshold:  0.015,
		SilenceThreshold: 0.008,
		Smoothing:        0.5,
	}
}

// EnergyClassifier is an RMS classifier with hysteresis between the
// speech and silence thresholds. One instance per call.
type EnergyClassifier struct {
	params   EnergyParams
	smoothed float64
	speaking bool
}

func NewEnergyClassifier(params EnergyParams) *EnergyClassifier {
	if params.SilenceThreshold <= 0 || params.SilenceThreshold > params.SpeechThreshold {
		params.SilenceThreshold = params.SpeechThreshold
	}
	if params.Smoothing <= 0 || params.Smoothing > 1 {
		params.Smoothing = 1
	}
	return &EnergyClassifier{params: params}
}

func (c *EnergyClassifier) IsSpeech(frame []int16, _ int) bool {
	level := RMS(frame)
	c.smoothed = c.params.Smoothing*level + (1-c.params.Smoothing)*c.smoothed

	if c.speaking {
		c.speaking = c.smoothed >= c.params.SilenceThreshold
	} else {
		c.speaking = c.smoothed >= c.params.SpeechThreshold
	}
	return c.speaking
}

func (c *EnergyClassifier) Reset() {
	c.smoothed = 0
	c.speaking = false
}

// RMS returns the root mean square of frame normalized to [0.0, 1.0].
func RMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range frame {
		n := float64(s) / 32768.0
		sumSquares += n * n
	}
	return math.Sqrt(sumSquares / float64(len(frame)))
}
