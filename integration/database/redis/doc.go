// Package redis connects to Redis with retries and exposes a health check
// for the job queue service.
//
// Connect parses the connection URL, pings the server with exponential
// backoff and returns the client only once Redis answers:
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
// Settings are read from the environment:
//
//	REDIS_URL              connection URL, redis:// or rediss:// (required)
//	REDIS_RETRY_ATTEMPTS   ping attempts before giving up (3)
//	REDIS_RETRY_INTERVAL   initial backoff interval (5s)
//	REDIS_CONNECT_TIMEOUT  overall connect deadline (30s)
//	REDIS_SCAN_BATCH_SIZE  HSCAN batch size used when listing executions (1000)
//
// Healthcheck returns a check function suitable for the service healthcheck:
//
//	check := redis.Healthcheck(client)
//	if err := check(ctx); errors.Is(err, redis.ErrHealthcheckFailed) {
//		// Redis is unreachable
//	}
package redis
