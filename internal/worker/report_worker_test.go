package worker

import (
	"context"
	"errors"
	"testing"

	"spendguard/internal/amqp"
	"spendguard/internal/sheets/memory"
	"spendguard/internal/storage"
)

type fakeQueue struct {
	events       map[int64]*storage.AnomalyEvent
	reported     []int64
	reportErrors []int64
}

func newFakeQueue(events ...storage.AnomalyEvent) *fakeQueue {
	q := &fakeQueue{events: make(map[int64]*storage.AnomalyEvent)}
	for i := range events {
		e := events[i]
		q.events[e.ID] = &e
	}
	return q
}

func (q *fakeQueue) GetAnomaly(ctx context.Context, id int64) (*storage.AnomalyEvent, error) {
	e, ok := q.events[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e, nil
}

func (q *fakeQueue) GetPendingReportAnomalies(ctx context.Context, limit int) ([]storage.PendingAnomaly, error) {
	var pending []storage.PendingAnomaly
	for _, e := range q.events {
		if !e.Reported && len(pending) < limit {
			pending = append(pending, storage.PendingAnomaly{ID: e.ID, Category: e.Category})
		}
	}
	return pending, nil
}

func (q *fakeQueue) MarkReported(ctx context.Context, id int64) error {
	q.events[id].Reported = true
	q.reported = append(q.reported, id)
	return nil
}

func (q *fakeQueue) MarkReportError(ctx context.Context, id int64) error {
	q.reportErrors = append(q.reportErrors, id)
	return nil
}

type failingReporter struct{}

func (failingReporter) Append(ctx context.Context, event storage.AnomalyEvent) (string, error) {
	return "", errors.New("sheets unavailable")
}

func TestHandleReportMessage(t *testing.T) {
	queue := newFakeQueue(storage.AnomalyEvent{ID: 7, Category: "food", ZScore: 3.2})
	reporter := memory.NewReporter()
	w := NewReportWorker(queue, reporter, 10)

	msg := amqp.NewAnomalyReportMessage(7, "food")
	if err := w.HandleReportMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleReportMessage: %v", err)
	}

	if got := reporter.Events(); len(got) != 1 || got[0].ID != 7 {
		t.Errorf("exported events = %+v, want one with id 7", got)
	}
	if len(queue.reported) != 1 || queue.reported[0] != 7 {
		t.Errorf("reported ids = %v, want [7]", queue.reported)
	}
}

func TestHandleReportMessageUnknownEvent(t *testing.T) {
	w := NewReportWorker(newFakeQueue(), memory.NewReporter(), 10)

	err := w.HandleReportMessage(context.Background(), amqp.NewAnomalyReportMessage(99, "food"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("HandleReportMessage = %v, want ErrNotFound", err)
	}
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	queue := newFakeQueue(storage.AnomalyEvent{ID: 7, Category: "food"})
	reporter := memory.NewReporter()
	w := NewReportWorker(queue, reporter, 10)

	msg := amqp.NewAnomalyReportMessage(7, "food")
	for i := 0; i < 3; i++ {
		if err := w.HandleReportMessage(context.Background(), msg); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	if got := reporter.Events(); len(got) != 1 {
		t.Errorf("exported %d times, want 1", len(got))
	}
}

func TestExportFailureMarksError(t *testing.T) {
	queue := newFakeQueue(storage.AnomalyEvent{ID: 7, Category: "food"})
	w := NewReportWorker(queue, failingReporter{}, 10)

	err := w.HandleReportMessage(context.Background(), amqp.NewAnomalyReportMessage(7, "food"))
	if err == nil {
		t.Fatalf("reporter failure swallowed")
	}
	if len(queue.reportErrors) != 1 || queue.reportErrors[0] != 7 {
		t.Errorf("reportErrors = %v, want [7]", queue.reportErrors)
	}
	if queue.events[7].Reported {
		t.Errorf("failed export marked as reported")
	}
}

func TestProcessPendingAnomalies(t *testing.T) {
	queue := newFakeQueue(
		storage.AnomalyEvent{ID: 1, Category: "food"},
		storage.AnomalyEvent{ID: 2, Category: "rent", Reported: true},
		storage.AnomalyEvent{ID: 3, Category: "fun"},
	)
	reporter := memory.NewReporter()
	w := NewReportWorker(queue, reporter, 10)

	if err := w.ProcessPendingAnomalies(context.Background()); err != nil {
		t.Fatalf("ProcessPendingAnomalies: %v", err)
	}

	if got := reporter.Events(); len(got) != 2 {
		t.Errorf("exported %d events, want 2 (already-reported skipped)", len(got))
	}
}
