package redis

import (
	"github.com/waflow/flowd/persistence"
)

var _ persistence.Storage = new(redisStorage)

type redisStorage struct {
	flowDao      *redisFlowDao
	executionDao *redisExecutionDao
	delayQueue   *redisDelayQueue
}

func NewRedisStorage(conf Config) *redisStorage {
	baseDao := newBaseDao(conf)
	return &redisStorage{
		flowDao:      NewRedisFlowDao(*baseDao),
		executionDao: NewRedisExecutionDao(*baseDao),
		delayQueue:   NewRedisDelayQueue(*baseDao),
	}
}

func (rs *redisStorage) FlowDao() persistence.FlowDao {
	return rs.flowDao
}

func (rs *redisStorage) ExecutionDao() persistence.ExecutionDao {
	return rs.executionDao
}

func (rs *redisStorage) DelayQueue() persistence.DelayQueue {
	return rs.delayQueue
}
