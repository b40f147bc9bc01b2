package server

import (
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/flappydqn/experiment"
)

type fixedStats experiment.Stats

func (f fixedStats) Stats() experiment.Stats {
	return experiment.Stats(f)
}

func newTestServer(queue int) (*Server, chan experiment.Command) {
	cmds := make(chan experiment.Command, queue)
	stats := fixedStats{Session: "abc", State: experiment.Running, Episode: 7}
	return New(":0", stats, cmds, zerolog.Nop()), cmds
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(1)
	if w := serve(s, http.MethodGet, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("healthz: \n\twant(%v) \n\thave(%v)", http.StatusOK, w.Code)
	}
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(1)
	w := serve(s, http.MethodGet, "/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("stats: \n\twant(%v) \n\thave(%v)", http.StatusOK, w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["state"] != "Running" || body["episode"] != 7.0 ||
		body["session"] != "abc" {
		t.Errorf("stats: unexpected body %v", body)
	}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		path string
		want int
		cmd  experiment.Command
	}{
		{"/commands/flap", http.StatusAccepted, experiment.Flap},
		{"/commands/toggle-training", http.StatusAccepted,
			experiment.ToggleTraining},
		{"/commands/save", http.StatusAccepted, experiment.SaveCheckpoint},
		{"/commands/jump", http.StatusBadRequest, 0},
	}

	for _, test := range tests {
		s, cmds := newTestServer(1)
		w := serve(s, http.MethodPost, test.path)
		if w.Code != test.want {
			t.Errorf("%v: \n\twant(%v) \n\thave(%v)", test.path, test.want,
				w.Code)
			continue
		}

		if test.want != http.StatusAccepted {
			if len(cmds) != 0 {
				t.Errorf("%v: rejected command was queued", test.path)
			}
			continue
		}
		if have := <-cmds; have != test.cmd {
			t.Errorf("%v: \n\twant(%v) \n\thave(%v)", test.path, test.cmd, have)
		}
	}
}

func TestCommandQueueFull(t *testing.T) {
	s, cmds := newTestServer(1)
	serve(s, http.MethodPost, "/commands/flap")

	w := serve(s, http.MethodPost, "/commands/flap")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("full queue: \n\twant(%v) \n\thave(%v)",
			http.StatusTooManyRequests, w.Code)
	}
	if len(cmds) != 1 {
		t.Errorf("queue: \n\twant(1) \n\thave(%v)", len(cmds))
	}
}

func TestFrame(t *testing.T) {
	s, _ := newTestServer(1)
	if w := serve(s, http.MethodGet, "/frame.png"); w.Code != http.StatusNotFound {
		t.Errorf("frame: \n\twant(%v) \n\thave(%v)", http.StatusNotFound, w.Code)
	}

	s.SetFrame(image.NewRGBA(image.Rect(0, 0, 4, 3)))
	w := serve(s, http.MethodGet, "/frame.png")
	if w.Code != http.StatusOK {
		t.Fatalf("frame: \n\twant(%v) \n\thave(%v)", http.StatusOK, w.Code)
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
		t.Errorf("frame: \n\twant(4x3) \n\thave(%v)", img.Bounds())
	}
}
