package model

// Operation names one remote engine operation.
type Operation string

const (
	OpStartSimulation   Operation = "StartSimulation"
	OpStopSimulation    Operation = "StopSimulation"
	OpCopyPasteObjects  Operation = "CopyPasteObjects"
	OpGetObjectHandle   Operation = "GetObjectHandle"
	OpSetObjectPosition Operation = "SetObjectPosition"
	OpGetObjectPose     Operation = "GetObjectPose"
	OpLoadScene         Operation = "LoadScene"
)

// Operations lists every request/response operation in a stable order.
var Operations = []Operation{
	OpStartSimulation,
	OpStopSimulation,
	OpCopyPasteObjects,
	OpGetObjectHandle,
	OpSetObjectPosition,
	OpGetObjectPose,
	OpLoadScene,
}
