package progress

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEmit_NilSink(t *testing.T) {
	Emit(nil, Event{Kind: KindFetching})
}

func TestEmit_PanickingSinkIsContained(t *testing.T) {
	sink := SinkFunc(func(Event) { panic("subscriber failure") })

	Emit(sink, Event{Kind: KindFetching})
}

func TestMulti(t *testing.T) {
	var a, b Recorder
	broken := SinkFunc(func(Event) { panic("boom") })

	sink := Multi(&a, broken, &b)
	sink.Emit(Event{Kind: KindFetching})
	sink.Emit(Event{Kind: KindDone})

	for name, r := range map[string]*Recorder{"a": &a, "b": &b} {
		kinds := r.Kinds()
		if len(kinds) != 2 || kinds[0] != KindFetching || kinds[1] != KindDone {
			t.Errorf("recorder %s kinds = %v", name, kinds)
		}
	}
}

func TestRecorder_Concurrent(t *testing.T) {
	var r Recorder
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Emit(Event{Kind: KindFetched})
		}()
	}
	wg.Wait()

	if n := len(r.Events()); n != 50 {
		t.Errorf("recorded %d events, want 50", n)
	}
}

func TestEvent_Status(t *testing.T) {
	if s := (Event{}).Status(); s != 0 {
		t.Errorf("Status() = %d, want 0", s)
	}
	if s := (Event{Response: &http.Response{StatusCode: 502}}).Status(); s != 502 {
		t.Errorf("Status() = %d, want 502", s)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	sink := Logger(logger)

	sink.Emit(Event{
		Kind:     KindRetrying,
		Upstream: "github",
		URL:      "https://api.github.com/repos/o/r/pulls",
		Attempt:  1,
		Retries:  3,
		Response: &http.Response{StatusCode: 502},
		Delay:    2 * time.Second,
		Reason:   "status code: 502",
	})
	sink.Emit(Event{Kind: KindError, Err: errors.New("dial tcp: refused")})
	sink.Emit(Event{Kind: KindPaging, PagesConsumed: 2, MaxPages: 10})

	out := buf.String()
	for _, want := range []string{
		`"level":"warn"`,
		`"event":"retrying"`,
		`"status":502`,
		`"reason":"status code: 502"`,
		`"error":"dial tcp: refused"`,
		`"pages_consumed":2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
}
