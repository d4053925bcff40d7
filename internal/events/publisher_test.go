package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
	"github.com/mohammed-shakir/hv-route-sync/internal/fetcher"
)

func TestPublisher_RefreshCompletedPublishesEvent(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	got := make(chan RefreshEvent, 1)
	prod.ExpectInputWithCheckerFunctionAndSucceed(func(b []byte) error {
		var ev RefreshEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			return err
		}
		got <- ev
		return nil
	})

	p := NewPublisherWithProducer(prod, "layer-refresh", 4, nil)
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.RefreshCompleted(t.Context(), fetcher.Result{
		ID:       "run-1",
		Started:  started,
		Viewport: model.Viewport{Extent: model.Extent{XMin: 1, YMin: 2, XMax: 3, YMax: 4}, Zoom: 8, Projection: "EPSG:3857"},
		Sources: []fetcher.SourceResult{
			{Layer: "qld", Duration: 40 * time.Millisecond},
			{Layer: "sa", Err: errors.New("upstream 503")},
		},
	})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case ev := <-got:
		if ev.ID != "run-1" || ev.Zoom != 8 || ev.Extent != [4]float64{1, 2, 3, 4} || !ev.TS.Equal(started) {
			t.Fatalf("unexpected event %+v", ev)
		}
		if len(ev.Layers) != 2 || !ev.Layers[0].OK || ev.Layers[0].DurationMS != 40 {
			t.Fatalf("layers=%+v", ev.Layers)
		}
		if ev.Layers[1].OK || ev.Layers[1].Error != "upstream 503" {
			t.Fatalf("failed layer=%+v", ev.Layers[1])
		}
	default:
		t.Fatal("no event reached the producer")
	}
}

func TestPublisher_CloseIsIdempotent(t *testing.T) {
	p := NewPublisherWithProducer(mocks.NewAsyncProducer(t, nil), "t", 1, nil)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if p.Publish(RefreshEvent{ID: "late"}) {
		t.Fatal("publish after Close must be dropped")
	}
}

func TestFromResult_FillsTimestamp(t *testing.T) {
	ev := FromResult(fetcher.Result{ID: "x"})
	if ev.TS.IsZero() {
		t.Fatal("timestamp should default to now")
	}
	if len(ev.Layers) != 0 {
		t.Fatalf("layers=%v", ev.Layers)
	}
}
