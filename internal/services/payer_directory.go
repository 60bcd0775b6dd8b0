package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/example/gymledger/internal/models"
)

// Payer is the snapshot of a user copied onto ledger entries.
type Payer struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Identification string    `json:"identification"`
	Email          string    `json:"email"`
}

// PayerDirectory resolves payers from the user directory. Implementations
// return ErrPayerNotFound when no user matches.
type PayerDirectory interface {
	Resolve(ctx context.Context, id uuid.UUID) (*Payer, error)
	FindByEmail(ctx context.Context, email string) (*Payer, error)
	FindByIdentification(ctx context.Context, identification string) (*Payer, error)
}

// UserDirectory reads payers from the users table.
type UserDirectory struct {
	db *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

func (d *UserDirectory) Resolve(ctx context.Context, id uuid.UUID) (*Payer, error) {
	return d.findOne(ctx, "id = ?", id)
}

func (d *UserDirectory) FindByEmail(ctx context.Context, email string) (*Payer, error) {
	return d.findOne(ctx, "LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (d *UserDirectory) FindByIdentification(ctx context.Context, identification string) (*Payer, error) {
	return d.findOne(ctx, "identification = ?", strings.TrimSpace(identification))
}

func (d *UserDirectory) findOne(ctx context.Context, query string, arg any) (*Payer, error) {
	var user models.User
	if err := d.db.WithContext(ctx).Where(query, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPayerNotFound
		}
		return nil, err
	}
	return &Payer{
		ID:             user.ID,
		Name:           user.Name,
		Identification: user.IdentificationValue(),
		Email:          user.Email,
	}, nil
}

// MaxPayerCacheTTL bounds how long a cached payer may be served. A profile
// edit reaches new ledger entries within the TTL, or at once when the
// profile service calls Invalidate.
const MaxPayerCacheTTL = 5 * time.Minute

// CachedPayerDirectory keeps resolved payers in Redis. Cache errors are
// logged and fall through to the wrapped directory.
type CachedPayerDirectory struct {
	next  PayerDirectory
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedPayerDirectory clamps ttl to (0, MaxPayerCacheTTL].
func NewCachedPayerDirectory(next PayerDirectory, client *redis.Client, ttl time.Duration) *CachedPayerDirectory {
	return &CachedPayerDirectory{next: next, redis: client, ttl: clampPayerTTL(ttl)}
}

func clampPayerTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > MaxPayerCacheTTL {
		return MaxPayerCacheTTL
	}
	return ttl
}

func payerCacheKey(id uuid.UUID) string {
	return "payer:" + id.String()
}

// Invalidate drops the cached snapshot of a payer so the next ledger write
// reads the current profile.
func (d *CachedPayerDirectory) Invalidate(ctx context.Context, id uuid.UUID) error {
	return d.redis.Del(ctx, payerCacheKey(id)).Err()
}

func (d *CachedPayerDirectory) Resolve(ctx context.Context, id uuid.UUID) (*Payer, error) {
	key := payerCacheKey(id)

	if raw, err := d.redis.Get(ctx, key).Bytes(); err == nil {
		var payer Payer
		if err := json.Unmarshal(raw, &payer); err == nil {
			return &payer, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("[PayerCache] get %s failed: %v", key, err)
	}

	payer, err := d.next.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(payer); err == nil {
		if err := d.redis.Set(ctx, key, data, d.ttl).Err(); err != nil {
			log.Printf("[PayerCache] set %s failed: %v", key, err)
		}
	}
	return payer, nil
}

func (d *CachedPayerDirectory) FindByEmail(ctx context.Context, email string) (*Payer, error) {
	return d.next.FindByEmail(ctx, email)
}

func (d *CachedPayerDirectory) FindByIdentification(ctx context.Context, identification string) (*Payer, error) {
	return d.next.FindByIdentification(ctx, identification)
}

// ConnectRedis parses url and pings the server.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
