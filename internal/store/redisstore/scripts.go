package redisstore

import "github.com/redis/go-redis/v9"

// Session keys referenced from inside scripts are derived from the hash fields,
// so these scripts assume a single Redis node.

// KEYS: payment guard, active pointer, sessions:active, player history, new session hash
// ARGV: id, game, player, payment hash, amount units, now (µs), timeout (µs)
// Returns 1 on success, -1 payment already used, -2 live active session exists.
var createSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return -1
end
local activeId = redis.call('GET', KEYS[2])
if activeId then
	local activeKey = 'session:' .. activeId
	if redis.call('HGET', activeKey, 'status') == 'active' then
		local created = tonumber(redis.call('HGET', activeKey, 'created_at'))
		if tonumber(ARGV[6]) - created <= tonumber(ARGV[7]) then
			return -2
		end
		redis.call('HSET', activeKey, 'status', 'expired', 'completed_at', ARGV[6])
		redis.call('ZREM', KEYS[3], activeId)
	end
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[5],
	'id', ARGV[1], 'game_type', ARGV[2], 'player_address', ARGV[3],
	'payment_tx_hash', ARGV[4], 'amount_paid_units', ARGV[5],
	'status', 'active', 'created_at', ARGV[6])
redis.call('ZADD', KEYS[3], ARGV[6], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[6], ARGV[1])
return 1
`)

// KEYS: session hash, sessions:active
// ARGV: score, now (µs)
// Returns -1 missing, 0 not active, 1 completed.
var completeSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'active' then
	return 0
end
local id = redis.call('HGET', KEYS[1], 'id')
local created = tonumber(redis.call('HGET', KEYS[1], 'created_at'))
local duration = math.floor((tonumber(ARGV[2]) - created) / 1000)
if duration < 0 then
	duration = 0
end
redis.call('HSET', KEYS[1], 'status', 'completed', 'score', ARGV[1],
	'completed_at', ARGV[2], 'game_duration_ms', tostring(duration))
redis.call('ZREM', KEYS[2], id)
local pointer = 'session:player:' .. redis.call('HGET', KEYS[1], 'game_type') .. ':' .. redis.call('HGET', KEYS[1], 'player_address')
if redis.call('GET', pointer) == id then
	redis.call('DEL', pointer)
end
return 1
`)

// KEYS: session hash, sessions:active
// ARGV: now (µs)
// Returns 1 when the session moved from active to expired, else 0.
var expireSessionScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'active' then
	return 0
end
local id = redis.call('HGET', KEYS[1], 'id')
redis.call('HSET', KEYS[1], 'status', 'expired', 'completed_at', ARGV[1])
redis.call('ZREM', KEYS[2], id)
local pointer = 'session:player:' .. redis.call('HGET', KEYS[1], 'game_type') .. ':' .. redis.call('HGET', KEYS[1], 'player_address')
if redis.call('GET', pointer) == id then
	redis.call('DEL', pointer)
end
return 1
`)

// KEYS: (board, achieved-at hash, session hash) per period
// ARGV: player, score, session id, now (µs)
var upsertScoreScript = redis.NewScript(`
for i = 1, #KEYS, 3 do
	local current = redis.call('ZSCORE', KEYS[i], ARGV[1])
	if (not current) or tonumber(ARGV[2]) > tonumber(current) then
		redis.call('ZADD', KEYS[i], ARGV[2], ARGV[1])
		redis.call('HSET', KEYS[i + 1], ARGV[1], ARGV[4])
		redis.call('HSET', KEYS[i + 2], ARGV[1], ARGV[3])
	end
end
return 1
`)

// KEYS: pool hash, pool index
// ARGV: game, period type, period date, now (µs)
// Returns the pool as a flat field/value list.
var getOrCreatePoolScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1],
		'game_type', ARGV[1], 'period_type', ARGV[2], 'period_date', ARGV[3],
		'total_amount_units', '0', 'total_games', '0', 'status', 'active', 'created_at', ARGV[4])
	redis.call('ZADD', KEYS[2], 0, ARGV[3])
end
return redis.call('HGETALL', KEYS[1])
`)

// KEYS: (pool hash, pool index) per pool
// ARGV: game, now (µs), amount units, then (period type, period date) per pool
// Every pool is checked before any is credited. Returns {0, ''} on success or
// {i, status} naming the first pool that is not active.
var addFundsScript = redis.NewScript(`
local n = #KEYS / 2
for i = 1, n do
	local pool = KEYS[2 * i - 1]
	local pt = ARGV[2 + 2 * i]
	local date = ARGV[3 + 2 * i]
	if redis.call('EXISTS', pool) == 0 then
		redis.call('HSET', pool,
			'game_type', ARGV[1], 'period_type', pt, 'period_date', date,
			'total_amount_units', '0', 'total_games', '0', 'status', 'active', 'created_at', ARGV[2])
		redis.call('ZADD', KEYS[2 * i], 0, date)
	end
	local status = redis.call('HGET', pool, 'status')
	if status ~= 'active' then
		return {i, status}
	end
end
for i = 1, n do
	redis.call('HINCRBY', KEYS[2 * i - 1], 'total_amount_units', ARGV[3])
	redis.call('HINCRBY', KEYS[2 * i - 1], 'total_games', 1)
end
return {0, ''}
`)

// KEYS: pool hash
// ARGV: winner ('' for none), now (µs)
var finalizePoolScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'active' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', 'finalized', 'finalized_at', ARGV[2])
if ARGV[1] ~= '' then
	redis.call('HSET', KEYS[1], 'winner_address', ARGV[1])
end
return 1
`)

// KEYS: pool hash
// ARGV: payout hash, now (µs)
// Returns {-1, ''} missing, {0, status} not finalized, {1, 'paid'} on success.
var markPaidScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return {-1, ''}
end
if status ~= 'finalized' then
	return {0, status}
end
redis.call('HSET', KEYS[1], 'status', 'paid', 'payout_tx_hash', ARGV[1], 'paid_at', ARGV[2])
return {1, 'paid'}
`)

// KEYS: nonce hash, nonces:used
// ARGV: nonce, player, game, session id, tx hash, block number, now (µs)
// Returns 1 when recorded, 0 when the nonce was already used.
var markNonceScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'nonce', ARGV[1], 'player_address', ARGV[2], 'game_type', ARGV[3],
	'session_id', ARGV[4], 'tx_hash', ARGV[5], 'block_number', ARGV[6], 'used_at', ARGV[7])
redis.call('ZADD', KEYS[2], ARGV[7], ARGV[1])
return 1
`)

// KEYS: nonces:used
// ARGV: cutoff (µs)
// Returns the number of nonces removed.
var purgeNoncesScript = redis.NewScript(`
local stale = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, nonce in ipairs(stale) do
	redis.call('DEL', 'nonce:used:' .. nonce)
end
if #stale > 0 then
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
end
return #stale
`)
