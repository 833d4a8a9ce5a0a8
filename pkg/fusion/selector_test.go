package fusion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-hrd/pkg/stream"
)

func reading(conf, base float64) Reading {
	units := make(map[string]Unit, NumUnits)
	for i, name := range ActionUnits {
		units[name] = Unit{Intensity: base + float64(i), Occurrence: 1}
	}
	return Reading{Confidence: conf, Units: units}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name     string
		c1, c2   float64
		want     Camera
		wantConf float64
	}{
		{"both low", 0.4, 0.3, NoCamera, 0},
		{"tie goes to camera 2", 0.6, 0.6, Camera2, 0.6},
		{"camera 1 stronger", 0.7, 0.2, Camera1, 0.7},
		{"camera 2 stronger", 0.2, 0.9, Camera2, 0.9},
		{"one at threshold", 0.5, 0.1, Camera1, 0.5},
		{"both just below", 0.49, 0.49, NoCamera, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{Cam1: reading(tt.c1, 10), Cam2: reading(tt.c2, 20), Moving: true}
			sel := Select(in, DefaultThreshold)

			if sel.Camera != tt.want {
				t.Errorf("Camera = %v, want %v", sel.Camera, tt.want)
			}
			if sel.Confidence != tt.wantConf {
				t.Errorf("Confidence = %v, want %v", sel.Confidence, tt.wantConf)
			}
			if !sel.Vector.Moving {
				t.Error("motion flag should be kept")
			}

			switch tt.want {
			case NoCamera:
				if !sel.Vector.IsZero() {
					t.Error("expected zero vector")
				}
			case Camera1:
				if sel.Vector.Units[0].Intensity != 10 {
					t.Errorf("expected camera 1 units, got %v", sel.Vector.Units[0])
				}
			case Camera2:
				if sel.Vector.Units[0].Intensity != 20 {
					t.Errorf("expected camera 2 units, got %v", sel.Vector.Units[0])
				}
			}
		})
	}
}

func TestFlatten_CanonicalOrder(t *testing.T) {
	units := map[string]Unit{
		"AU45": {Intensity: 4.5},
		"AU04": {Intensity: 0.4, Occurrence: 1},
		"AU99": {Intensity: 9.9},
	}
	got := Flatten(units)

	if got[0] != (Unit{Intensity: 0.4, Occurrence: 1}) {
		t.Errorf("first slot = %v, want AU04", got[0])
	}
	if got[NumUnits-1].Intensity != 4.5 {
		t.Errorf("last slot = %v, want AU45", got[NumUnits-1])
	}
	if got[1] != (Unit{}) {
		t.Errorf("missing AU06 should be zero, got %v", got[1])
	}
}

func TestEncode(t *testing.T) {
	v := FeatureVector{Moving: true, Units: Flatten(reading(1, 0).Units)}

	paired := v.Encode(LayoutPaired)
	if len(paired) != 35 {
		t.Fatalf("paired length = %d, want 35", len(paired))
	}
	if paired[0] != 1 {
		t.Errorf("motion flag = %v, want 1", paired[0])
	}
	if paired[1] != 0 || paired[2] != 1 || paired[3] != 1 {
		t.Errorf("unexpected pair layout: %v", paired[:4])
	}

	intensity := v.Encode(LayoutIntensity)
	if len(intensity) != 18 {
		t.Fatalf("intensity length = %d, want 18", len(intensity))
	}
	if intensity[2] != 1 {
		t.Errorf("second intensity = %v, want 1", intensity[2])
	}

	still := FeatureVector{}.Encode(LayoutPaired)
	if still[0] != 0 {
		t.Errorf("motion flag = %v, want 0", still[0])
	}
}

func TestParseLayout(t *testing.T) {
	if l, err := ParseLayout(""); err != nil || l != LayoutPaired {
		t.Errorf("empty layout = %v, %v; want paired", l, err)
	}
	if l, err := ParseLayout("intensity"); err != nil || l != LayoutIntensity {
		t.Errorf("intensity layout = %v, %v", l, err)
	}
	if _, err := ParseLayout("bogus"); !errors.Is(err, ErrUnknownLayout) {
		t.Errorf("expected ErrUnknownLayout, got %v", err)
	}
}

func TestHeaderAndRow(t *testing.T) {
	h := Header()
	if len(h) != 36 {
		t.Fatalf("header length = %d, want 36", len(h))
	}
	if h[0] != "Originating Time" || h[1] != "Confidence" || h[2] != "AU04_i" || h[35] != "AU45_o" {
		t.Errorf("unexpected header: %v", h)
	}

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	row := Row(ts, Selection{})
	if len(row) != len(h) {
		t.Fatalf("row length = %d, want %d", len(row), len(h))
	}
	for i, f := range row[1:] {
		if f != "0" {
			t.Errorf("zero selection field %d = %q", i+1, f)
		}
	}
}

type recordingRows struct {
	rows [][]string
	err  error
}

func (r *recordingRows) WriteRow(fields []string) error {
	r.rows = append(r.rows, fields)
	return r.err
}

func TestSelector_WritesRowPerTimestep(t *testing.T) {
	rows := &recordingRows{}
	sel := NewSelector(0, rows)

	ts := time.Now()
	sel.Fuse(ts, Input{Cam1: reading(0.9, 1), Cam2: reading(0.1, 2)})
	sel.Fuse(ts.Add(time.Second), Input{})

	if len(rows.rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows.rows))
	}
	if rows.rows[0][1] != "0.9" {
		t.Errorf("confidence column = %q, want 0.9", rows.rows[0][1])
	}
}

func TestSelector_RowErrorDoesNotAffectSelection(t *testing.T) {
	rows := &recordingRows{err: errors.New("disk full")}
	sel := NewSelector(DefaultThreshold, rows)

	got := sel.Fuse(time.Now(), Input{Cam1: reading(0.8, 3), Cam2: reading(0.2, 4)})
	if got.Camera != Camera1 {
		t.Errorf("Camera = %v, want camera1", got.Camera)
	}
}

func TestSelector_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan stream.Sample[Input], 1)
	out := NewSelector(DefaultThreshold, nil).Run(ctx, in)

	ts := time.Now()
	in <- stream.At(Input{Cam1: reading(0.7, 5), Cam2: reading(0.2, 6), Moving: true}, ts)
	close(in)

	got, ok := <-out
	if !ok {
		t.Fatal("output closed early")
	}
	if got.Value.Camera != Camera1 || !got.Time.Equal(ts) {
		t.Errorf("got %+v at %v", got.Value, got.Time)
	}
	if _, ok := <-out; ok {
		t.Error("output should close after input")
	}
}
