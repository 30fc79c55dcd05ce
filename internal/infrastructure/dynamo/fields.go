package dynamo

// Attribute names of the vaults and owners tables used outside struct tags.
const (
	fieldVaultID       = "vault_id"
	fieldOwnerID       = "owner_id"
	fieldVersion       = "version"
	fieldTriggerTime   = "trigger_time"
	fieldUnlockRequest = "unlock_request"
)

// optionalFields are top-level attributes dropped by omitempty; an update
// must REMOVE them when absent so a cleared value does not linger.
var optionalFields = []string{fieldTriggerTime, fieldUnlockRequest}
