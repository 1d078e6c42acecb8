package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/notorm-tech/un0/core"
	"github.com/notorm-tech/un0/core/logger"
)

// Event is a committed change to a mapped resource. Receive them with
// RequestEvents().
type Event struct {
	Serial       int
	Resource     string
	Operation    core.Operation
	ResourceID   string
	CreatedAt    time.Time
	AttemptsLeft int
}

type txEvent struct {
	tx    *sql.Tx
	event Event
}

// EventPublisher forwards committed events to an external broker.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type eventHandler struct {
	request  string
	callback func(Event) error
}

// handleEvents creates the event queue table and prepares the queries.
func (b *Backend) handleEvents() {
	_, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS un0."_event_"
(serial SERIAL,
resource VARCHAR NOT NULL,
operation VARCHAR NOT NULL,
resource_id CHAR(26) NOT NULL,
created_at TIMESTAMP NOT NULL,
attempts_left INTEGER NOT NULL,
PRIMARY KEY(serial)
);`)
	if err != nil {
		panic(err)
	}

	b.eventsUpdateQuery = `UPDATE un0."_event_"
SET attempts_left = attempts_left - 1
WHERE serial = (
SELECT serial
 FROM un0."_event_"
 WHERE attempts_left > 0
 ORDER BY attempts_left, serial
 FOR UPDATE SKIP LOCKED
 LIMIT 1
)
RETURNING serial, resource, operation, resource_id, created_at, attempts_left;
`
	b.eventsDeleteQuery = `DELETE FROM un0."_event_"
WHERE serial = $1 RETURNING serial;`
}

func callWithPanicEnvelope(callback func(Event) error, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %s", r)
		}
	}()
	err = callback(event)
	return
}

func (b *Backend) eventWorker(n int, wg *sync.WaitGroup, jobs chan txEvent, output chan string) {
	defer wg.Done()

	for job := range jobs {
		tx := job.tx
		event := job.event

		request := eventRequestKey(event.Resource, event.Operation)

		if handler, ok := b.handlers[request]; ok {
			err := callWithPanicEnvelope(handler.callback, event)
			if err != nil {
				output <- "error processing #" + strconv.Itoa(event.Serial) + " " + request + ": " + err.Error()
				tx.Commit()
			} else {
				// event handled successfully, delete from queue
				var serial int
				err = tx.QueryRow(b.eventsDeleteQuery, &event.Serial).Scan(&serial)
				if err == nil {
					err = tx.Commit()
				}
				if err != nil {
					output <- "error committing #" + strconv.Itoa(serial) + " " + request + ": " + err.Error()
				} else {
					output <- "successfully handled #" + strconv.Itoa(serial) + " " + request
				}
			}
		} else {
			// this should not happen
			output <- "no handler for #" + strconv.Itoa(event.Serial) + " " + request
			tx.Commit()
		}
	}
}

// TriggerEvents triggers event processing by eventually calling
// ProcessEvents(). By default processing happens in another go-routine,
// but by injecting another trigger function it can also happen in its
// own lambda, triggered by an external queue event.
func (b *Backend) TriggerEvents() {
	b.triggerEvents()
}

// ProcessEvents processes all pending events.
func (b *Backend) ProcessEvents() {
	rlog := logger.Default()

	output := make(chan string, 100)
	collect := make(chan []string)

	go func() {
		var collected []string
		for s := range output {
			collected = append(collected, s)
		}
		collect <- collected
	}()

	jobs := make(chan txEvent, 20)
	var wg sync.WaitGroup
	wg.Add(b.eventConcurrency)
	for i := 0; i < b.eventConcurrency; i++ {
		go b.eventWorker(i, &wg, jobs, output)
	}

	for {
		tx, err := b.db.BeginTx(context.Background(), nil)
		if err != nil {
			output <- "failed to begin transaction: " + err.Error()
			break
		}

		var event Event
		err = tx.QueryRow(b.eventsUpdateQuery).Scan(
			&event.Serial,
			&event.Resource,
			&event.Operation,
			&event.ResourceID,
			&event.CreatedAt,
			&event.AttemptsLeft,
		)
		if err != nil {
			if err != sql.ErrNoRows {
				output <- "failed to retrieve event: " + err.Error()
			}
			tx.Rollback()
			break
		}
		event.ResourceID = strings.TrimSpace(event.ResourceID)
		jobs <- txEvent{tx, event}
	}
	close(jobs)
	wg.Wait()
	close(output)
	collected := <-collect
	if len(collected) > 0 {
		rlog.Infoln("event processing report:\n  " + strings.Join(collected, "\n  "))
	}
}

// EventRequest represents an event request for a specific resource and
// a list of database operations.
type EventRequest struct {
	Resource   string
	Operations []core.Operation
}

// RequestEvents requests events and installs a handler for them.
//
// There can only be one handler for each unique combination of resource
// and operation.
//
// If a handler returns an error and the event still has attempts left,
// it will be rescheduled. The number of possible attempts is a
// configuration setting of the backend itself.
//
// The order of events is based on the number of attempts left (highest
// first).
func (b *Backend) RequestEvents(handler func(Event) error, requests ...EventRequest) {
	rlog := logger.Default()
	for _, request := range requests {
		if _, ok := b.resources[request.Resource]; !ok {
			panic(fmt.Errorf("event request for unknown resource %s", request.Resource))
		}
		for _, operation := range request.Operations {
			key := eventRequestKey(request.Resource, operation)
			if _, ok := b.handlers[key]; ok {
				panic(fmt.Errorf("event handler for %s already installed", key))
			}
			rlog.Infoln("install event handler", key)
			b.handlers[key] = eventHandler{request: key, callback: handler}
		}
	}
}

func eventRequestKey(resource string, operation core.Operation) string {
	return string(operation) + " " + resource
}

// commitWithEvent commits the transaction of a completed operation. If a
// handler was installed for the resource and operation, an event is
// enqueued in the same transaction and processing is triggered after the
// commit. A configured publisher receives every committed change, with
// or without local handlers.
func (b *Backend) commitWithEvent(ctx context.Context, tx *sql.Tx, resource string, operation core.Operation, resourceID string) error {
	request := eventRequestKey(resource, operation)
	_, handled := b.handlers[request]

	event := Event{
		Resource:   resource,
		Operation:  operation,
		ResourceID: resourceID,
		CreatedAt:  time.Now().UTC(),
	}

	if handled {
		err := tx.QueryRow(`INSERT INTO un0."_event_"
(resource,operation,resource_id,created_at,attempts_left)
VALUES($1,$2,$3,$4,$5) RETURNING serial;`,
			resource,
			operation,
			resourceID,
			event.CreatedAt,
			b.eventMaxAttempts,
		).Scan(&event.Serial)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if handled {
		b.TriggerEvents()
	}
	if b.publisher != nil {
		go func() {
			if err := b.publisher.Publish(context.Background(), event); err != nil {
				logger.Default().WithError(err).Warningln("cannot publish event", request)
			}
		}()
	}
	return nil
}
