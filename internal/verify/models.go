package verify

// Status is the outcome of running a verification tool over one entry
// point. The zero value is not meaningful; use StatusUnknown when a
// tool's output cannot be classified.
type Status string

const (
	StatusUnknown   Status = "Unknown"
	StatusVerified  Status = "Verified"
	StatusError     Status = "Error"
	StatusTimeout   Status = "Timeout"
	StatusOverflow  Status = "Overflow"
	StatusReachable Status = "Reachable"
)

// Backend names accepted on the command line.
const (
	BackendKlee     = "klee"
	BackendSeahorn  = "seahorn"
	BackendProptest = "proptest"
)

// Options configures a verification run over one crate.
type Options struct {
	// CrateDir is the crate root holding Cargo.toml. Empty means the
	// current directory.
	CrateDir string

	// Tests verifies every #[test] function instead of main.
	Tests bool

	// TestNames restricts test verification to tests whose names
	// contain one of these strings. A non-empty list implies Tests.
	TestNames []string

	// Jobs caps how many entry points are verified concurrently.
	// Zero or negative means one job per CPU.
	Jobs int

	// Replay reruns failing inputs through cargo to print concrete
	// values. A level above one replays passing inputs too.
	Replay int

	// Verbosity widens how much raw tool output is passed through.
	Verbosity int

	// Clean runs cargo clean before building.
	Clean bool

	// BackendFlags holds comma separated flags appended to the
	// backend tool invocation.
	BackendFlags string

	// Args are handed to the program under test.
	Args []string
}

func (o Options) crateDir() string {
	if o.CrateDir == "" {
		return "."
	}
	return o.CrateDir
}

func (o Options) testsRequested() bool {
	return o.Tests || len(o.TestNames) > 0
}

// Job is one entry point to verify.
type Job struct {
	CrateDir string
	Name     string
	Entry    string
	Bitcode  string
	Flags    []string
	Args     []string
}

// Report is what a backend concluded about a single job.
type Report struct {
	Status Status
	Stats  map[string]int
}

// TestResult pairs a test name with its classified outcome.
type TestResult struct {
	Name   string
	Status Status
}

// Summary aggregates the per-test outcomes of a crate verification.
// Status holds the last failing status, or StatusVerified when every
// entry point passed.
type Summary struct {
	Status  Status
	Passed  int
	Failed  int
	Results []TestResult
}
