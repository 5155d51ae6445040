package cnst

const (
	// DalleSSEYaml is the default configuration file name
	DalleSSEYaml = "dalle-sse.yaml"
)

const (
	RedisClusterTypeSentinel = "sentinel"
	RedisClusterTypeCluster  = "cluster"
	RedisClusterTypeSingle   = "single"
)

const (
	BrokerTypeRedis  = "redis"
	BrokerTypeMemory = "memory"
)
