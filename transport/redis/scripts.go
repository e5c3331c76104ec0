package redis

import goredis "github.com/redis/go-redis/v9"

// Routes one publishing through the exchange's binding hash and appends it to
// the bound stream. Returns false when nothing is bound to the routing key.
//
// KEYS[1] bindings hash of the exchange
// ARGV    routing key, direct flag, max len, then field/value pairs
const scriptPublish = `
local key, direct, maxlen = ARGV[1], ARGV[2], tonumber(ARGV[3])

local stream = key
if direct ~= '1' then
  stream = redis.call('HGET', KEYS[1], key)
  if not stream then
    return false
  end
end

local args = {stream}
if maxlen > 0 then
  table.insert(args, 'MAXLEN')
  table.insert(args, '~')
  table.insert(args, maxlen)
end
table.insert(args, '*')
for i = 4, #ARGV do
  table.insert(args, ARGV[i])
end

return redis.call('XADD', unpack(args))
`

// Claims a binding for a reply stream. Fails when the stream already exists
// or is already bound.
//
// KEYS[1] bindings hash of the exchange, KEYS[2] reply stream
// ARGV[1] routing key
const scriptDeclareReply = `
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
return redis.call('HSETNX', KEYS[1], ARGV[1], KEYS[2])
`

// Settles a pending entry: acks it in the group and, when a target stream is
// given, re-appends its fields there in the same step.
//
// KEYS[1] source stream, KEYS[2] target stream or ''
// ARGV[1] group, ARGV[2] entry id, then field/value pairs
const scriptSettle = `
local acked = redis.call('XACK', KEYS[1], ARGV[1], ARGV[2])
if acked == 0 then
  return 0
end
if KEYS[2] ~= '' then
  local args = {KEYS[2], '*'}
  for i = 3, #ARGV do
    table.insert(args, ARGV[i])
  end
  redis.call('XADD', unpack(args))
end
return 1
`

var (
	publishLua      = goredis.NewScript(scriptPublish)
	declareReplyLua = goredis.NewScript(scriptDeclareReply)
	settleLua       = goredis.NewScript(scriptSettle)
)
