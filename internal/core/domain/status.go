package domain

const (
	WorkflowStatusConstruction = 1
	WorkflowStatusComplete     = 2
	WorkflowStatusRejected     = 3
)

const (
	InstanceStatusActive   = 1
	InstanceStatusInactive = 2
	InstanceStatusDeleted  = 3
)
