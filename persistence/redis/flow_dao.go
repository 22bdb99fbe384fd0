package redis

import (
	"context"

	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"

	"github.com/waflow/flowd/logger"
	"github.com/waflow/flowd/model"
	"github.com/waflow/flowd/persistence"
	"github.com/waflow/flowd/util"
)

const FLOW_KEY string = "FLOWS"

var _ persistence.FlowDao = new(redisFlowDao)

type redisFlowDao struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.Flow]
}

func NewRedisFlowDao(baseDao baseDao) *redisFlowDao {
	return &redisFlowDao{
		baseDao:        baseDao,
		encoderDecoder: util.NewJsonEncoderDecoder[model.Flow](),
	}
}

func (rf *redisFlowDao) Save(ctx context.Context, f model.Flow) error {
	key := rf.getNamespaceKey(FLOW_KEY)
	data, err := rf.encoderDecoder.Encode(f)
	if err != nil {
		return err
	}
	if err := rf.redisClient.HSet(ctx, key, f.Id, string(data)).Err(); err != nil {
		logger.Error("error in saving flow", zap.String("flowId", f.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rf *redisFlowDao) Get(ctx context.Context, id string) (*model.Flow, error) {
	key := rf.getNamespaceKey(FLOW_KEY)
	flowStr, err := rf.redisClient.HGet(ctx, key, id).Result()
	if err == rd.Nil {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		logger.Error("error in getting flow", zap.String("flowId", id), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rf.encoderDecoder.Decode([]byte(flowStr))
}

func (rf *redisFlowDao) List(ctx context.Context) ([]model.Flow, error) {
	key := rf.getNamespaceKey(FLOW_KEY)
	entries, err := rf.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		logger.Error("error in listing flows", zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	flows := make([]model.Flow, 0, len(entries))
	for _, flowStr := range entries {
		f, err := rf.encoderDecoder.Decode([]byte(flowStr))
		if err != nil {
			return nil, err
		}
		flows = append(flows, *f)
	}
	return flows, nil
}

func (rf *redisFlowDao) ListActive(ctx context.Context) ([]model.Flow, error) {
	flows, err := rf.List(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]model.Flow, 0, len(flows))
	for _, f := range flows {
		if f.Status == model.FLOW_STATUS_ACTIVE {
			active = append(active, f)
		}
	}
	return active, nil
}

func (rf *redisFlowDao) Delete(ctx context.Context, id string) error {
	key := rf.getNamespaceKey(FLOW_KEY)
	deleted, err := rf.redisClient.HDel(ctx, key, id).Result()
	if err != nil {
		logger.Error("error in deleting flow", zap.String("flowId", id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if deleted == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
