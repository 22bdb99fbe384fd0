package redis

import (
	"context"
	"errors"
	"time"

	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"

	"github.com/waflow/flowd/logger"
	"github.com/waflow/flowd/model"
	"github.com/waflow/flowd/persistence"
	"github.com/waflow/flowd/util"
)

const EXECUTION_KEY string = "EXECUTION"
const ACTIVE_KEY string = "ACTIVE"

var _ persistence.ExecutionDao = new(redisExecutionDao)

type redisExecutionDao struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.Execution]
}

func NewRedisExecutionDao(baseDao baseDao) *redisExecutionDao {
	return &redisExecutionDao{
		baseDao:        baseDao,
		encoderDecoder: util.NewJsonEncoderDecoder[model.Execution](),
	}
}

func (re *redisExecutionDao) Create(ctx context.Context, execution *model.Execution) error {
	activeKey := re.getNamespaceKey(ACTIVE_KEY, execution.ConversationId)
	claimed, err := re.redisClient.SetNX(ctx, activeKey, execution.Id, 0).Result()
	if err != nil {
		logger.Error("error claiming active execution slot", zap.String("conversationId", execution.ConversationId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if !claimed {
		return persistence.ErrExecutionActive
	}
	execution.CreatedAt = time.Now()
	execution.UpdatedAt = execution.CreatedAt
	data, err := re.encoderDecoder.Encode(*execution)
	if err != nil {
		return err
	}
	key := re.getNamespaceKey(EXECUTION_KEY, execution.Id)
	if err := re.redisClient.Set(ctx, key, string(data), 0).Err(); err != nil {
		logger.Error("error in saving execution", zap.String("executionId", execution.Id), zap.Error(err))
		re.redisClient.Del(ctx, activeKey)
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (re *redisExecutionDao) Get(ctx context.Context, id string) (*model.Execution, error) {
	key := re.getNamespaceKey(EXECUTION_KEY, id)
	executionStr, err := re.redisClient.Get(ctx, key).Result()
	if err == rd.Nil {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		logger.Error("error in getting execution", zap.String("executionId", id), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return re.encoderDecoder.Decode([]byte(executionStr))
}

// Update is a watch guarded read-modify-write. The stored version must match
// the version the caller stepped from, otherwise another delivery already
// advanced this execution and the caller must give up its step.
func (re *redisExecutionDao) Update(ctx context.Context, execution *model.Execution) error {
	key := re.getNamespaceKey(EXECUTION_KEY, execution.Id)
	activeKey := re.getNamespaceKey(ACTIVE_KEY, execution.ConversationId)
	err := re.redisClient.Watch(ctx, func(tx *rd.Tx) error {
		executionStr, err := tx.Get(ctx, key).Result()
		if err == rd.Nil {
			return persistence.ErrNotFound
		}
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		stored, err := re.encoderDecoder.Decode([]byte(executionStr))
		if err != nil {
			return err
		}
		if stored.Version != execution.Version {
			return persistence.ErrVersionConflict
		}
		execution.Version++
		execution.UpdatedAt = time.Now()
		data, err := re.encoderDecoder.Encode(*execution)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, string(data), 0)
			if !execution.IsActive() {
				pipe.Del(ctx, activeKey)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, rd.TxFailedErr) {
		return persistence.ErrVersionConflict
	}
	return err
}

// ListPaused scans the execution keyspace for paused records. Only the
// startup sweep calls it, the hot path never scans.
func (re *redisExecutionDao) ListPaused(ctx context.Context) ([]model.Execution, error) {
	pattern := re.getNamespaceKey(EXECUTION_KEY, "*")
	var paused []model.Execution
	var cursor uint64
	for {
		keys, next, err := re.redisClient.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			logger.Error("error scanning executions", zap.Error(err))
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		for _, key := range keys {
			executionStr, err := re.redisClient.Get(ctx, key).Result()
			if err == rd.Nil {
				continue
			}
			if err != nil {
				return nil, persistence.StorageLayerError{Message: err.Error()}
			}
			execution, err := re.encoderDecoder.Decode([]byte(executionStr))
			if err != nil {
				return nil, err
			}
			if execution.State == model.EXECUTION_PAUSED {
				paused = append(paused, *execution)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return paused, nil
}

func (re *redisExecutionDao) FindActive(ctx context.Context, conversationId string) (*model.Execution, error) {
	activeKey := re.getNamespaceKey(ACTIVE_KEY, conversationId)
	executionId, err := re.redisClient.Get(ctx, activeKey).Result()
	if err == rd.Nil {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		logger.Error("error in resolving active execution", zap.String("conversationId", conversationId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	execution, err := re.Get(ctx, executionId)
	if err != nil {
		return nil, err
	}
	if !execution.IsActive() {
		// stale index entry, release it
		re.redisClient.Del(ctx, activeKey)
		return nil, persistence.ErrNotFound
	}
	return execution, nil
}
