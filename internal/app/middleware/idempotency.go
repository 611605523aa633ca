package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"rentledger/internal/app/commands"
)

// IdempotentCommand is a command the caller may safely resend. Withdrawals carry the client's
// Idempotency-Key here.
type IdempotentCommand interface {
	commands.Command
	IdempotencyKey() string
	// ResultPrototype returns a pointer to a zero result for decoding a stored response.
	ResultPrototype() any
}

// IdempotencyRecord is a stored successful response.
type IdempotencyRecord struct {
	Key        string
	Payload    []byte
	OccurredAt time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	Save(ctx context.Context, rec IdempotencyRecord) error
}

type ResultCodec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

type JSONResultCodec struct{}

func (JSONResultCodec) Encode(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONResultCodec) Decode(data []byte, out any) error { return json.Unmarshal(data, out) }

var errMissingPrototype = errors.New("middleware: idempotent command requires result prototype")

// Idempotency answers a resent command from the store instead of running it again. Only
// successes are recorded: a failed withdrawal has already been compensated, so resending it must
// execute it again. Commands sharing a key are serialized within this process so two
// overlapping resends cannot both reach the gateway. Once the command has succeeded its result
// is returned even if recording it fails; the failure is only logged.
func Idempotency(store IdempotencyStore, codec ResultCodec, logger *slog.Logger) CommandMiddleware {
	if store == nil {
		panic("middleware: idempotency store required")
	}
	if codec == nil {
		codec = JSONResultCodec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	locks := &keyedLocks{held: make(map[string]*keyLock)}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			ic, ok := cmd.(IdempotentCommand)
			if !ok || ic.IdempotencyKey() == "" {
				return next.Dispatch(ctx, cmd)
			}
			key := cmd.Key() + ":" + ic.IdempotencyKey()
			unlock, err := locks.lock(ctx, key)
			if err != nil {
				return nil, err
			}
			defer unlock()

			if rec, found, err := store.Get(ctx, key); err != nil {
				return nil, err
			} else if found {
				return replay(codec, ic, rec)
			}
			result, err := next.Dispatch(ctx, cmd)
			if err != nil {
				return nil, err
			}
			rec := IdempotencyRecord{Key: key, OccurredAt: time.Now().UTC()}
			if result != nil {
				if rec.Payload, err = codec.Encode(result); err != nil {
					logger.Error("idempotency record not encoded", "key", key, "error", err)
					return result, nil
				}
			}
			if err := store.Save(ctx, rec); err != nil {
				logger.Error("idempotency record not saved", "key", key, "error", err)
			}
			return result, nil
		})
	}
}

func replay(codec ResultCodec, cmd IdempotentCommand, rec IdempotencyRecord) (any, error) {
	proto := cmd.ResultPrototype()
	if proto == nil {
		return nil, errMissingPrototype
	}
	if len(rec.Payload) == 0 {
		return nil, nil
	}
	if err := codec.Decode(rec.Payload, proto); err != nil {
		return nil, err
	}
	if rv := reflect.ValueOf(proto); rv.Kind() == reflect.Pointer && !rv.IsNil() {
		return rv.Elem().Interface(), nil
	}
	return proto, nil
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

type keyedLocks struct {
	mu   sync.Mutex
	held map[string]*keyLock
}

func (l *keyedLocks) lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.held[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.held[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return func() {
			<-kl.ch
			l.release(key, kl)
		}, nil
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}
}

func (l *keyedLocks) release(key string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.held, key)
	}
	l.mu.Unlock()
}
