package diff

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"warship-tracker/internal/constants"
	"warship-tracker/internal/domain"
	"warship-tracker/internal/kv"
)

// KVSink publishes delta records as expiring key-value entries, one key
// per refresh cycle. Downstream consumers scan the account prefix.
type KVSink struct {
	store  kv.Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewKVSink(store kv.Store, logger zerolog.Logger) *KVSink {
	return &KVSink{store: store, logger: logger, now: time.Now}
}

func (s *KVSink) Publish(ctx context.Context, key domain.AccountKey, deltas []domain.DeltaRecord) error {
	if len(deltas) == 0 {
		return nil
	}
	payload, err := json.Marshal(deltas)
	if err != nil {
		return fmt.Errorf("failed to encode deltas for %s: %w", key, err)
	}
	entry := fmt.Sprintf("recent:%d:%d:%d", int(key.Region), key.AccountID, s.now().Unix())
	if err := s.store.Set(ctx, entry, string(payload), constants.DeltaTTL); err != nil {
		return fmt.Errorf("failed to publish deltas for %s: %w", key, err)
	}
	s.logger.Debug().Str("account", key.String()).Int("deltas", len(deltas)).Msg("published delta batch")
	return nil
}
