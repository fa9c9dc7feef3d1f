package keymutex

// Lock key namespaces shared by the queue, scheduler and sweepers.

func IdentityKey(identity string) string { return "identity:" + identity }

func ResourceKey(id string) string { return "resource:" + id }

func GroupKey(id string) string { return "group:" + id }

func OrdersKey(kind string) string { return "orders:" + kind }

// AdmissionKey serializes capacity checks against inserts across identities.
const AdmissionKey = "queue:admission"
