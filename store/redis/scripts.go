package redis

import goredis "github.com/redis/go-redis/v9"

// incrementScript applies a delta to an existing period hash.
// KEYS[1] = period hash key
// ARGV[1] = count
// ARGV[2] = counter field of the generation type
// ARGV[3] = last_updated_at
//
// Returns 1 when applied and 0 when the period does not exist.
var incrementScript = goredis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
    return 0
end
local count = tonumber(ARGV[1])
redis.call("HINCRBY", key, "total", count)
redis.call("HINCRBY", key, ARGV[2], count)
redis.call("HSET", key, "last_updated_at", ARGV[3])
return 1
`)

// createPeriodScript writes a period hash only if none exists.
// KEYS[1] = period hash key
// ARGV    = field, value pairs
//
// Returns 1 when created and 0 when the key already exists.
var createPeriodScript = goredis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
    return 0
end
redis.call("HSET", key, unpack(ARGV))
return 1
`)

// createRecordScript stores a record and indexes it for listing.
// KEYS[1] = record key
// KEYS[2] = per-user index
// KEYS[3] = per-user, per-type index
// ARGV[1] = encoded record
// ARGV[2] = score (created_at, unix microseconds)
// ARGV[3] = record id
//
// Returns 1 when created and 0 when the record id is taken.
var createRecordScript = goredis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX") == false then
    return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
redis.call("ZADD", KEYS[3], ARGV[2], ARGV[3])
return 1
`)
