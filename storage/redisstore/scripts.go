package redisstore

// The scripts below implement the Storage Contract's "inspect + clean
// expired + mutate" sequence as a single atomic Redis call. Expiry values
// travel as strings: "never" or a unix-nanosecond timestamp, matching
// encodeExpiry/decodeExpiry in redisstore.go.
//
// reap(recordKey, slotsKey, nowNanos) is inlined at the top of every
// mutating script, so expired writer and reader entries are cleaned up
// before the admission or release decision. The writer-only scripts pass
// an empty slotsKey, which limits reap to writer records. luaRead does not
// call reap: it filters expired entries out of its reply without deleting
// them.

const luaReaper = `
local function is_live(expires, now)
  if expires == "never" then return true end
  return tonumber(expires) > tonumber(now)
end

local function reap(recordKey, slotsKey, now)
  local kind = redis.call("HGET", recordKey, "kind")
  if kind == "writer" then
    local expires = redis.call("HGET", recordKey, "expires")
    if not is_live(expires, now) then
      redis.call("DEL", recordKey)
      return
    end
  elseif kind == "reader" and slotsKey ~= "" then
    local owners = redis.call("HKEYS", slotsKey)
    for _, owner in ipairs(owners) do
      local expires = redis.call("HGET", slotsKey, owner)
      if not is_live(expires, now) then
        redis.call("HDEL", slotsKey, owner)
      end
    end
    if redis.call("HLEN", slotsKey) == 0 then
      redis.call("DEL", recordKey)
      redis.call("DEL", slotsKey)
    end
  end
end
`

const luaTryPutWriter = luaReaper + `
local recordKey, slotsKey = KEYS[1], KEYS[2]
local ownerID, expires, now = ARGV[1], ARGV[2], ARGV[3]

reap(recordKey, slotsKey, now)

local kind = redis.call("HGET", recordKey, "kind")
if kind == false then
  redis.call("HSET", recordKey, "kind", "writer", "owner", ownerID, "expires", expires)
  return {"acquired"}
elseif kind == "writer" then
  local owner = redis.call("HGET", recordKey, "owner")
  if owner == ownerID then
    return {"acquired"}
  end
  return {"blocked_writer", owner}
else
  local owners = redis.call("HKEYS", slotsKey)
  return {"blocked_reader", unpack(owners)}
end
`

const luaTryAddReaderSlot = luaReaper + `
local recordKey, slotsKey = KEYS[1], KEYS[2]
local ownerID, expires, limit, now = ARGV[1], ARGV[2], tonumber(ARGV[3]), ARGV[4]

reap(recordKey, slotsKey, now)

local kind = redis.call("HGET", recordKey, "kind")
if kind == false then
  redis.call("HSET", recordKey, "kind", "reader", "limit", limit)
  redis.call("HSET", slotsKey, ownerID, expires)
  return {"added", tostring(limit), ownerID}
elseif kind == "writer" then
  return {"blocked"}
else
  local storedLimit = tonumber(redis.call("HGET", recordKey, "limit"))
  local existing = redis.call("HGET", slotsKey, ownerID)
  local owners = redis.call("HKEYS", slotsKey)
  if existing ~= false then
    return {"added", tostring(storedLimit), unpack(owners)}
  end
  if #owners < storedLimit then
    redis.call("HSET", slotsKey, ownerID, expires)
    table.insert(owners, ownerID)
    return {"added", tostring(storedLimit), unpack(owners)}
  end
  return {"limit_reached", tostring(storedLimit), unpack(owners)}
end
`

const luaRefreshWriter = luaReaper + `
local recordKey = KEYS[1]
local ownerID, expires, now = ARGV[1], ARGV[2], ARGV[3]

reap(recordKey, "", now)

local kind = redis.call("HGET", recordKey, "kind")
if kind ~= "writer" then return 0 end

local owner = redis.call("HGET", recordKey, "owner")
local current = redis.call("HGET", recordKey, "expires")
if owner ~= ownerID or current == "never" then return 0 end

redis.call("HSET", recordKey, "expires", expires)
return 1
`

const luaRefreshReaderSlot = luaReaper + `
local recordKey, slotsKey = KEYS[1], KEYS[2]
local ownerID, expires, now = ARGV[1], ARGV[2], ARGV[3]

reap(recordKey, slotsKey, now)

local kind = redis.call("HGET", recordKey, "kind")
if kind ~= "reader" then return 0 end

local current = redis.call("HGET", slotsKey, ownerID)
if current == false or current == "never" then return 0 end

redis.call("HSET", slotsKey, ownerID, expires)
return 1
`

const luaReleaseWriter = luaReaper + `
local recordKey = KEYS[1]
local ownerID, now = ARGV[1], ARGV[2]

reap(recordKey, "", now)

local kind = redis.call("HGET", recordKey, "kind")
if kind ~= "writer" then return 0 end

local owner = redis.call("HGET", recordKey, "owner")
if owner ~= ownerID then return 0 end

redis.call("DEL", recordKey)
return 1
`

const luaReleaseReaderSlot = luaReaper + `
local recordKey, slotsKey = KEYS[1], KEYS[2]
local ownerID, now = ARGV[1], ARGV[2]

reap(recordKey, slotsKey, now)

local kind = redis.call("HGET", recordKey, "kind")
if kind ~= "reader" then return 0 end

if redis.call("HEXISTS", slotsKey, ownerID) == 0 then return 0 end

redis.call("HDEL", slotsKey, ownerID)
if redis.call("HLEN", slotsKey) == 0 then
  redis.call("DEL", recordKey)
  redis.call("DEL", slotsKey)
end
return 1
`

const luaForceReleaseWriter = luaReaper + `
local recordKey = KEYS[1]
local now = ARGV[1]

reap(recordKey, "", now)

local kind = redis.call("HGET", recordKey, "kind")
if kind ~= "writer" then return 0 end

redis.call("DEL", recordKey)
return 1
`

const luaForceReleaseAllReaders = luaReaper + `
local recordKey, slotsKey = KEYS[1], KEYS[2]
local now = ARGV[1]

reap(recordKey, slotsKey, now)

local kind = redis.call("HGET", recordKey, "kind")
if kind ~= "reader" or redis.call("HLEN", slotsKey) == 0 then return 0 end

redis.call("DEL", recordKey)
redis.call("DEL", slotsKey)
return 1
`

const luaRead = luaReaper + `
local recordKey, slotsKey = KEYS[1], KEYS[2]
local now = ARGV[1]

local kind = redis.call("HGET", recordKey, "kind")
if kind == false then
  return {"absent"}
elseif kind == "writer" then
  local owner = redis.call("HGET", recordKey, "owner")
  local expires = redis.call("HGET", recordKey, "expires")
  if not is_live(expires, now) then return {"absent"} end
  return {"writer", owner, expires}
else
  local limit = redis.call("HGET", recordKey, "limit")
  local owners = redis.call("HKEYS", slotsKey)
  local out = {"reader", limit}
  for _, owner in ipairs(owners) do
    local expires = redis.call("HGET", slotsKey, owner)
    if is_live(expires, now) then
      table.insert(out, owner)
      table.insert(out, expires)
    end
  end
  if #out == 2 then return {"absent"} end
  return out
end
`
