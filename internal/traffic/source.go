package traffic

// Source identifies which feed provided a traffic update.
type Source string

const (
	SourceUnknown    Source = ""
	SourceStratux    Source = "stratux"
	SourceSimulation Source = "simulation"
)
