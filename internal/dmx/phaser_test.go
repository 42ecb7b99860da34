package dmx

import "testing"

func TestPhaserWaveforms(t *testing.T) {
	tests := []struct {
		wave    Waveform
		degrees float64
		want    uint8
	}{
		{Sine, 0, 128},
		{Sine, 90, 255},
		{Sine, 270, 0},
		{Cosine, 0, 255},
		{Cosine, 180, 0},
		{Triangle, 0, 255},
		{Triangle, 180, 0},
		{Square, 10, 255},
		{Square, 190, 0},
		{Sawtooth, 0, 0},
		{Sawtooth, 180, 128},
		{EaseIn, 0, 0},
		{EaseIn, 180, 128},
		{EaseOut, 0, 255},
		{EaseInOut, 180, 255},
		{Sine, 450, 255}, // wraps.
		{Sine, -90, 0},
	}
	for _, tc := range tests {
		p := Phaser{Waveform: tc.wave, Stretch: 1, Min: 0, Max: 255}
		if got := p.Value(tc.degrees); got != tc.want {
			t.Errorf("%s(%v) = %d, want %d", tc.wave, tc.degrees, got, tc.want)
		}
	}
}

func TestPhaserStaysInAmplitude(t *testing.T) {
	for w := Sine; w <= EaseInOut; w++ {
		p := Phaser{Waveform: w, Stretch: 1.7, Min: 40, Max: 90}
		for deg := 0.0; deg < 720; deg += 0.5 {
			if v := p.Value(deg); v < 40 || v > 90 {
				t.Fatalf("%s(%v) = %d outside [40, 90]", w, deg, v)
			}
		}
	}
}

func TestParseWaveform(t *testing.T) {
	w, err := ParseWaveform("Ease-In-Out")
	if err != nil || w != EaseInOut {
		t.Fatalf("got %v, %v", w, err)
	}
	if _, err := ParseWaveform("noise"); err == nil {
		t.Fatal("expected error")
	}
}

func TestHueToRGB(t *testing.T) {
	cases := map[float64][3]uint8{
		0:   {255, 0, 0},
		120: {0, 255, 0},
		240: {0, 0, 255},
		60:  {255, 255, 0},
		360: {255, 0, 0},
	}
	for h, want := range cases {
		c := HueToRGB(h)
		if [3]uint8{c.R, c.G, c.B} != want {
			t.Errorf("hue %v: got %v, want %v", h, c, want)
		}
	}
}
