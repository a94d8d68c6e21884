package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/repository"
)

var _ repository.HandoffRepository = (*HandoffRepo)(nil)

// luaConsume reads and deletes in one step so two return pages racing on
// the same handoff cannot both get it.
var luaConsume = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v then
	redis.call("DEL", KEYS[1])
end
return v`)

// HandoffRepo keeps payment handoffs across the processor redirect.
type HandoffRepo struct {
	client *Client
	ttl    time.Duration
}

func NewHandoffRepo(client *Client, ttl time.Duration) *HandoffRepo {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &HandoffRepo{client: client, ttl: ttl}
}

func (r *HandoffRepo) handoffKey(id string) string {
	return fmt.Sprintf("payment_handoff:%s", id)
}

func (r *HandoffRepo) Save(ctx context.Context, h *model.PaymentHandoff) error {
	if h == nil || h.ID == "" {
		return domain.ErrInvalidArgument
	}
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.handoffKey(h.ID), data, r.ttl)
}

func (r *HandoffRepo) Consume(ctx context.Context, id string) (*model.PaymentHandoff, error) {
	if id == "" {
		return nil, domain.ErrHandoffNotFound
	}
	data, err := luaConsume.Run(ctx, r.client.cli, []string{r.handoffKey(id)}).Text()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrHandoffNotFound
	}
	if err != nil {
		return nil, err
	}
	var h model.PaymentHandoff
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return nil, fmt.Errorf("decode handoff: %w", err)
	}
	return &h, nil
}
