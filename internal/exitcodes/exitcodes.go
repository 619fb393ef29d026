package exitcodes

// Exit codes for the dataset-prep CLI
// These codes form the operational contract with CI/CD and operators
const (
	Success         = 0 // Successful execution
	InvalidConfig   = 2 // Configuration file invalid or missing
	SafetyViolation = 3 // Safety validator blocked an operation
	RuntimeError    = 4 // Runtime error during execution (dataset load, journal, metrics)
	ProvisionFailed = 5 // One or more working directories could not be created
	TeardownFailed  = 6 // One or more working directories could not be removed
)
