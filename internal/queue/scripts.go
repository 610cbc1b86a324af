package queue

import "github.com/redis/go-redis/v9"

// Every state transition on a job hash runs as one script so that terminal
// states can never be overwritten and the processing list never disagrees
// with the hash for longer than a single call.
//
// Return codes: -1 job unknown, 0 job already terminal, otherwise success.

// startScript also refuses a job whose attempts are used up (-2), which
// happens when earlier attempts were lost with their worker.
//
// KEYS: job hash. ARGV: now, lease deadline (unix ms).
var startScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return -1 end
if status == 'SUCCESS' or status == 'FAILURE' then return 0 end
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts')) or 0
local max = tonumber(redis.call('HGET', KEYS[1], 'max_attempts')) or 0
if max > 0 and attempts >= max then return -2 end
redis.call('HSET', KEYS[1], 'status', 'RUNNING', 'updated_at', ARGV[1], 'lease_until', ARGV[2])
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

// KEYS: job hash, processing list. ARGV: id, status, result, now, result ttl (ms).
var completeScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	redis.call('LREM', KEYS[2], 0, ARGV[1])
	return -1
end
if status == 'SUCCESS' or status == 'FAILURE' then
	redis.call('LREM', KEYS[2], 0, ARGV[1])
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'result', ARGV[3], 'updated_at', ARGV[4])
redis.call('HDEL', KEYS[1], 'lease_until')
if tonumber(ARGV[5]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
end
redis.call('LREM', KEYS[2], 0, ARGV[1])
return 1
`)

// KEYS: job hash, processing list, delayed set. ARGV: id, ready-at (unix ms), reason, now.
var retryScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	redis.call('LREM', KEYS[2], 0, ARGV[1])
	return -1
end
if status == 'SUCCESS' or status == 'FAILURE' then
	redis.call('LREM', KEYS[2], 0, ARGV[1])
	return 0
end
redis.call('HSET', KEYS[1], 'status', 'PENDING', 'last_error', ARGV[3], 'updated_at', ARGV[4])
redis.call('HDEL', KEYS[1], 'lease_until')
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
redis.call('LREM', KEYS[2], 0, ARGV[1])
return 1
`)

// KEYS: delayed set, ready list. ARGV: now (unix ms), batch size.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

// requeueScript walks the processing list. Entries whose job is gone or
// finished are dropped. A live entry without a lease (dequeued, never
// started) is granted one; an entry whose lease lapsed goes back to the
// consuming end of the ready list.
//
// KEYS: processing list, ready list. ARGV: now (unix ms), job key prefix,
// now, grace lease deadline (unix ms).
var requeueScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
local moved = 0
for _, id in ipairs(ids) do
	local key = ARGV[2] .. id
	local status = redis.call('HGET', key, 'status')
	if (not status) or status == 'SUCCESS' or status == 'FAILURE' then
		redis.call('LREM', KEYS[1], 0, id)
	else
		local lease = redis.call('HGET', key, 'lease_until')
		if not lease then
			redis.call('HSET', key, 'lease_until', ARGV[4])
		elseif tonumber(lease) <= tonumber(ARGV[1]) then
			redis.call('HSET', key, 'status', 'PENDING', 'updated_at', ARGV[3], 'last_error', 'lease expired')
			redis.call('HDEL', key, 'lease_until')
			redis.call('LREM', KEYS[1], 0, id)
			redis.call('RPUSH', KEYS[2], id)
			moved = moved + 1
		end
	end
end
return moved
`)
