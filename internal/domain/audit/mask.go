package audit

// Redacted is the fixed marker written in place of sensitive values.
// Masking runs before the entry is persisted, so raw values never reach
// durable storage.
const Redacted = "[REDACTED]"

// sensitiveFields lists, per entity kind, the field names whose values must be
// masked. The lists are versioned with the code: adding a tracked field with
// sensitive content means extending the entry here.
var sensitiveFields = map[Entity][]string{
	EntityGlobalUser: {
		"password",
		"password_hash",
		"remember_token",
		"two_factor_secret",
		"ssn",
		"national_id",
	},
	EntitySession: {
		"token",
		"refresh_token",
		"csrf_token",
	},
	EntitySystemSetting: {
		"api_key",
		"smtp_password",
		"webhook_secret",
	},
	EntityEnrollment: {
		"card_number",
		"account_number",
	},
}

// Mask returns a copy of values with every sensitive field for the entity kind
// replaced by the Redacted marker. Nil values stay nil so "field was unset"
// remains distinguishable. The input map is never modified.
func Mask(entity Entity, values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, field := range sensitiveFields[entity] {
		if v, ok := out[field]; ok && v != nil {
			out[field] = Redacted
		}
	}
	return out
}

// SensitiveFields returns the masked field names for an entity kind.
func SensitiveFields(entity Entity) []string {
	fields := sensitiveFields[entity]
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}
