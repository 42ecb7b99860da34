package audio

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/gordonklaus/portaudio"
	"gonum.org/v1/gonum/dsp/fourier"

	"blaulicht/internal/config"
)

var ErrDeviceNotFound = errors.New("audio device not found")

// Source yields one spectrum frame per capture period.
type Source interface {
	Read() ([]Frequency, error)
	Close() error
}

// Init must be called once before any capture; Terminate releases the backend.
func Init() error      { return portaudio.Initialize() }
func Terminate() error { return portaudio.Terminate() }

// Devices lists the names of all input capable devices.
func Devices() ([]string, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			names = append(names, d.Name)
		}
	}
	return names, nil
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// Capture reads mono frames from a portaudio input stream and turns them
// into log spaced spectrum bins.
type Capture struct {
	stream     *portaudio.Stream
	samples    []float32
	window     []float64
	seq        []float64
	coeff      []complex128
	fft        *fourier.FFT
	sampleRate float64
	edges      []float64
	bins       []Frequency
}

// OpenCapture starts capturing from the named device.
func OpenCapture(cfg config.AudioConf, device string) (*Capture, error) {
	dev, err := findDevice(device)
	if err != nil {
		return nil, err
	}
	n := cfg.FramesPerBuffer
	if n <= 0 {
		n = 1024
	}

	c := newCapture(n, cfg.Bins, dev.DefaultSampleRate, cfg.FreqMin, cfg.FreqMax)

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = dev.DefaultSampleRate
	params.FramesPerBuffer = n

	stream, err := portaudio.OpenStream(params, c.samples)
	if err != nil {
		return nil, fmt.Errorf("open audio stream on %q: %w", device, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start audio stream on %q: %w", device, err)
	}
	c.stream = stream
	return c, nil
}

func newCapture(frames, bins int, sampleRate, freqMin, freqMax float64) *Capture {
	if bins <= 0 {
		bins = 32
	}
	if freqMin <= 0 {
		freqMin = 30
	}
	if freqMax <= freqMin {
		freqMax = freqMin * 8
	}
	c := &Capture{
		samples:    make([]float32, frames),
		window:     make([]float64, frames),
		seq:        make([]float64, frames),
		fft:        fourier.NewFFT(frames),
		sampleRate: sampleRate,
		edges:      make([]float64, bins+1),
		bins:       make([]Frequency, bins),
	}
	// Hann window.
	for i := range c.window {
		c.window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(frames-1))
	}
	ratio := math.Pow(freqMax/freqMin, 1/float64(bins))
	for i := range c.edges {
		c.edges[i] = freqMin * math.Pow(ratio, float64(i))
	}
	for i := range c.bins {
		c.bins[i].Freq = float32(math.Sqrt(c.edges[i] * c.edges[i+1]))
		if bins > 1 {
			c.bins[i].Position = float32(i) / float32(bins-1)
		}
	}
	return c
}

// Read blocks for one buffer. Input overflows are tolerated, any other
// backend error is returned.
func (c *Capture) Read() ([]Frequency, error) {
	if err := c.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, fmt.Errorf("read audio stream: %w", err)
	}
	return c.spectrum(), nil
}

func (c *Capture) spectrum() []Frequency {
	for i, s := range c.samples {
		c.seq[i] = float64(s) * c.window[i]
	}
	c.coeff = c.fft.Coefficients(c.coeff, c.seq)

	// Hann halves the coherent gain.
	norm := 4 / float64(len(c.samples))
	out := make([]Frequency, len(c.bins))
	copy(out, c.bins)
	for k := 1; k < len(c.coeff); k++ {
		f := c.fft.Freq(k) * c.sampleRate
		i := c.band(f)
		if i < 0 {
			continue
		}
		if m := float32(cmplx.Abs(c.coeff[k]) * norm); m > out[i].Volume {
			out[i].Volume = m
		}
	}
	return out
}

func (c *Capture) band(f float64) int {
	if f < c.edges[0] || f >= c.edges[len(c.edges)-1] {
		return -1
	}
	for i := 1; i < len(c.edges); i++ {
		if f < c.edges[i] {
			return i - 1
		}
	}
	return -1
}

func (c *Capture) Close() error {
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Stop(); err != nil {
		_ = c.stream.Close()
		return fmt.Errorf("stop audio stream: %w", err)
	}
	return c.stream.Close()
}
