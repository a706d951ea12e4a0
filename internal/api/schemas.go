package api

// Schemas reject malformed shapes before a handler runs. Range checks that
// depend on configuration (amount bounds, radius default) stay in the
// services.

const createRequestSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["requester_id", "amount", "lat", "lng"],
  "properties": {
    "requester_id": {"type": "string", "minLength": 1, "maxLength": 64},
    "amount": {"type": "number", "exclusiveMinimum": 0},
    "lat": {"type": "number", "minimum": -90, "maximum": 90},
    "lng": {"type": "number", "minimum": -180, "maximum": 180}
  }
}`

const acceptSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["agent_id"],
  "properties": {
    "agent_id": {"type": "string", "minLength": 1, "maxLength": 64}
  }
}`

const actorSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["actor"],
  "properties": {
    "actor": {"type": "string", "enum": ["requester", "agent"]}
  }
}`

const verifyCodeSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["code"],
  "properties": {
    "code": {"type": "string", "pattern": "^[0-9]{6}$"}
  }
}`

const transferSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["from", "to", "amount"],
  "properties": {
    "from": {"type": "string", "minLength": 1, "maxLength": 64},
    "to": {"type": "string", "minLength": 1, "maxLength": 64},
    "amount": {"type": "number", "exclusiveMinimum": 0}
  }
}`

const gatewayTransactionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["account_id", "phone", "network_code", "amount"],
  "properties": {
    "account_id": {"type": "string", "minLength": 1, "maxLength": 64},
    "phone": {"type": "string", "minLength": 1, "maxLength": 32},
    "network_code": {"type": "string", "minLength": 1, "maxLength": 16},
    "amount": {"type": "number", "exclusiveMinimum": 0}
  }
}`
