package paysession

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const pendingIndexKey = "pendings"

func keySession(psid string) string { return "ps:" + psid }
func keyFulfill(psid string) string { return "fulfill:" + psid }
func keyIdemp(eventID string) string { return "idemp:" + eventID }

// RedisStore is the hot-path Store backend (PAYSESSION_BACKEND=redis).
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore wires a RedisStore with the given session TTL.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, session Session) error {
	fields := map[string]interface{}{
		"order_id":           session.OrderID,
		"cls":                session.Cls,
		"qty":                session.Qty,
		"amount":             session.Amount,
		"currency":           session.Currency,
		"customer_email":     session.CustomerEmail,
		"ticket_transfer_id": session.TicketTransferID,
		"goodie_transfer_id": session.GoodieTransferID,
		"try_goodie":         boolToRedis(session.TryGoodie),
		"created_at":         strconv.FormatInt(session.CreatedAt.Unix(), 10),
		"expires_at":         strconv.FormatInt(session.ExpiresAt.Unix(), 10),
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, keySession(session.PSID), fields)
	pipe.Expire(ctx, keySession(session.PSID), s.ttl+60*time.Second)
	pipe.ZAdd(ctx, pendingIndexKey, &redis.Z{
		Score:  float64(session.CreatedAt.Unix()),
		Member: session.PSID,
	})
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("paysession: save %s: %w", session.PSID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, psid string) (Session, error) {
	h, err := s.rdb.HGetAll(ctx, keySession(psid)).Result()
	if err != nil {
		return Session{}, fmt.Errorf("paysession: get %s: %w", psid, err)
	}
	if len(h) == 0 {
		return Session{}, ErrNotFound
	}
	return sessionFromHash(psid, h), nil
}

func (s *RedisStore) RemovePending(ctx context.Context, psid string) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, pendingIndexKey, psid)
	pipe.Del(ctx, keySession(psid))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("paysession: remove pending %s: %w", psid, err)
	}
	return nil
}

func (s *RedisStore) FulfillGate(ctx context.Context, psid string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, keyFulfill(psid), "1", 24*time.Hour).Result()
	if err != nil {
		return false, fmt.Errorf("paysession: fulfill gate %s: %w", psid, err)
	}
	return ok, nil
}

func (s *RedisStore) MarkEventSeen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	ok, err := s.rdb.SetNX(ctx, keyIdemp(eventID), "1", time.Hour).Result()
	if err != nil {
		return false, fmt.Errorf("paysession: mark event %s: %w", eventID, err)
	}
	return ok, nil
}

func (s *RedisStore) FulfillAndMarkEvent(ctx context.Context, psid, eventID string) (FulfillResult, error) {
	claimed, err := s.FulfillGate(ctx, psid)
	if err != nil {
		return FulfillResult{}, err
	}
	if !claimed {
		return FulfillResult{AlreadyFulfilled: true, EventSeen: nil}, nil
	}

	if eventID == "" {
		return FulfillResult{AlreadyFulfilled: false, EventSeen: nil}, nil
	}

	newlyMarked, err := s.MarkEventSeen(ctx, eventID)
	if err != nil {
		return FulfillResult{}, err
	}
	alreadySeen := !newlyMarked
	return FulfillResult{AlreadyFulfilled: false, EventSeen: &alreadySeen}, nil
}

func (s *RedisStore) ListRecentPSIDs(ctx context.Context, limit int) ([]string, error) {
	psids, err := s.rdb.ZRevRange(ctx, pendingIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("paysession: list recent psids: %w", err)
	}
	return psids, nil
}

func (s *RedisStore) GetRecentPaymentSessions(ctx context.Context, limit int) (int, []PendingSummary, error) {
	total, err := s.rdb.ZCard(ctx, pendingIndexKey).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("paysession: zcard: %w", err)
	}

	psids, err := s.ListRecentPSIDs(ctx, limit)
	if err != nil {
		return 0, nil, err
	}
	if len(psids) == 0 {
		return int(total), nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(psids))
	for i, psid := range psids {
		cmds[i] = pipe.HGetAll(ctx, keySession(psid))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, nil, fmt.Errorf("paysession: pipeline hgetall: %w", err)
	}

	now := time.Now()
	items := make([]PendingSummary, 0, len(psids))
	for i, psid := range psids {
		h, err := cmds[i].Result()
		if err != nil || len(h) == 0 {
			if remErr := s.RemovePending(ctx, psid); remErr != nil {
				return 0, nil, fmt.Errorf("paysession: prune dangling pending %s: %w", psid, remErr)
			}
			continue
		}
		session := sessionFromHash(psid, h)
		items = append(items, PendingSummary{
			PSID:      psid,
			CreatedAt: session.CreatedAt,
			AgeMS:     now.Sub(session.CreatedAt).Milliseconds(),
			OrderID:   session.OrderID,
			Cls:       session.Cls,
			Qty:       session.Qty,
			Email:     session.CustomerEmail,
			Amount:    session.Amount,
			Currency:  session.Currency,
			TryGoodie: session.TryGoodie,
			Status:    "PENDING",
		})
	}
	return int(total), items, nil
}

func sessionFromHash(psid string, h map[string]string) Session {
	qty, _ := strconv.Atoi(h["qty"])
	if qty == 0 {
		qty = 1
	}
	amount, _ := strconv.ParseInt(h["amount"], 10, 64)
	createdAt, _ := strconv.ParseInt(h["created_at"], 10, 64)
	expiresAt, _ := strconv.ParseInt(h["expires_at"], 10, 64)
	currency := h["currency"]
	if currency == "" {
		currency = "eur"
	}
	return Session{
		PSID:             psid,
		OrderID:          h["order_id"],
		Cls:              h["cls"],
		Qty:              qty,
		Amount:           amount,
		Currency:         currency,
		CustomerEmail:    h["customer_email"],
		TicketTransferID: h["ticket_transfer_id"],
		GoodieTransferID: h["goodie_transfer_id"],
		TryGoodie:        h["try_goodie"] == "1",
		CreatedAt:        time.Unix(createdAt, 0),
		ExpiresAt:        time.Unix(expiresAt, 0),
	}
}

func boolToRedis(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

var _ Store = (*RedisStore)(nil)
