package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"security-service/internal/models"
	"security-service/internal/util"
)

const (
	blockPrefix   = "blocked:"
	blockIDPrefix = "blocked_id:"
)

// ErrBlockNotFound means no block record exists for the address or id.
var ErrBlockNotFound = errors.New("block record not found")

// BlockCache stores lockout records keyed by source address. Temporary
// blocks carry a Redis TTL matching blocked_until, so expiry needs no
// sweeper; permanent blocks have no TTL.
type BlockCache struct {
	client redis.UniversalClient
}

func NewBlockCache(client redis.UniversalClient) *BlockCache {
	return &BlockCache{client: client}
}

// Upsert writes the block record and its id index. An existing record for
// the same address is overwritten, never duplicated.
func (c *BlockCache) Upsert(ctx context.Context, block *models.BlockedAddress) error {
	payload, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to encode block record: %w", err)
	}

	var ttl time.Duration
	if !block.IsPermanent {
		if block.BlockedUntil == nil {
			return fmt.Errorf("temporary block for %s has no blocked_until", block.SourceAddress)
		}
		ttl = time.Until(*block.BlockedUntil)
		if ttl <= 0 {
			return fmt.Errorf("temporary block for %s already expired", block.SourceAddress)
		}
	}

	// Overwriting an address that was blocked under a different id would
	// leave the old id index dangling; clear it first.
	if existing, err := c.GetByAddress(ctx, block.SourceAddress); err == nil && existing.BlockID != block.BlockID {
		if err := c.client.Del(ctx, blockIDPrefix+existing.BlockID).Err(); err != nil {
			return fmt.Errorf("failed to drop stale block id index: %w", err)
		}
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, blockPrefix+block.SourceAddress, payload, ttl)
	pipe.Set(ctx, blockIDPrefix+block.BlockID, block.SourceAddress, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to store block record",
			zap.String("source_address", block.SourceAddress),
			zap.Error(err))
		return fmt.Errorf("failed to store block record: %w", err)
	}

	util.Info("Block record stored",
		zap.String("block_id", block.BlockID),
		zap.String("source_address", block.SourceAddress),
		zap.Bool("permanent", block.IsPermanent),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *BlockCache) GetByAddress(ctx context.Context, sourceAddress string) (*models.BlockedAddress, error) {
	raw, err := c.client.Get(ctx, blockPrefix+sourceAddress).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrBlockNotFound
		}
		util.Error("Failed to read block record",
			zap.String("source_address", sourceAddress),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read block record: %w", err)
	}

	block := &models.BlockedAddress{}
	if err := json.Unmarshal([]byte(raw), block); err != nil {
		return nil, fmt.Errorf("failed to decode block record: %w", err)
	}
	return block, nil
}

func (c *BlockCache) GetByID(ctx context.Context, blockID string) (*models.BlockedAddress, error) {
	sourceAddress, err := c.client.Get(ctx, blockIDPrefix+blockID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrBlockNotFound
		}
		util.Error("Failed to resolve block id",
			zap.String("block_id", blockID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to resolve block id: %w", err)
	}
	return c.GetByAddress(ctx, sourceAddress)
}

// Delete removes the record and its id index.
func (c *BlockCache) Delete(ctx context.Context, block *models.BlockedAddress) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, blockPrefix+block.SourceAddress)
	pipe.Del(ctx, blockIDPrefix+block.BlockID)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to delete block record",
			zap.String("block_id", block.BlockID),
			zap.Error(err))
		return fmt.Errorf("failed to delete block record: %w", err)
	}

	util.Info("Block record deleted",
		zap.String("block_id", block.BlockID),
		zap.String("source_address", block.SourceAddress))
	return nil
}
