package config

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_MEMORY StorageType = "memory"

type Config struct {
	RedisConfig           RedisConfig
	WhatsAppConfig        WhatsAppConfig
	HttpPort              int
	StorageType           StorageType
	DispatcherWorkers     int
	DispatcherCapacity    int
	DelayPollSeconds      int
	ApiCallTimeoutSeconds int
	FlowCacheSeconds      int
}

type RedisConfig struct {
	Addrs     []string
	Namespace string
}

type WhatsAppConfig struct {
	BaseUrl       string
	PhoneNumberId string
	AccessToken   string
	VerifyToken   string
}
