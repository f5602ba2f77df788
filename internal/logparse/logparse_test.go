package logparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFailureLog = `
=========================== test session starts ============================
collected 3 items

tests/test_engine.py::test_generate PASSED
tests/test_engine.py::test_sampling[top_k] FAILED
tests/test_engine.py::test_batching ERROR

____________________ tests/test_engine.py::test_sampling[top_k] ____________________

    def test_sampling():
>       assert output.top_k == 5
E       AssertionError: expected 5, got 3

____________________ tests/test_engine.py::test_batching ____________________

E       RuntimeError: engine core died unexpectedly

=========================== short test summary info ===========================
FAILED tests/test_engine.py::test_sampling[top_k]
ERROR tests/test_engine.py::test_batching
`

func TestExtractFailures_PytestFailedAndError(t *testing.T) {
	failures := ExtractFailures(sampleFailureLog, "Engine Test")

	require.Len(t, failures, 2)

	assert.Equal(t, "tests/test_engine.py::test_sampling[top_k]", failures[0].TestID)
	assert.Equal(t, "Engine Test", failures[0].JobName)
	assert.Equal(t, "AssertionError", failures[0].ErrorType)
	assert.Equal(t, "expected 5, got 3", failures[0].ErrorMessage)

	assert.Equal(t, "tests/test_engine.py::test_batching", failures[1].TestID)
	assert.Equal(t, "RuntimeError", failures[1].ErrorType)
	assert.Equal(t, "engine core died unexpectedly", failures[1].ErrorMessage)
}

func TestExtractFailures_ReversedColumnOrder(t *testing.T) {
	log := "FAILED tests/test_a.py::test_one\n"

	failures := ExtractFailures(log, "job")

	require.Len(t, failures, 1)
	assert.Equal(t, "tests/test_a.py::test_one", failures[0].TestID)
}

func TestExtractFailures_StripsANSICodes(t *testing.T) {
	log := "tests/test_a.py::test_one \x1b[31mFAILED\x1b[0m\n"

	failures := ExtractFailures(log, "job")

	require.Len(t, failures, 1)
	assert.Equal(t, "tests/test_a.py::test_one", failures[0].TestID)
}

func TestExtractFailures_ShortSummaryFallback(t *testing.T) {
	log := `
some unrelated noise
=========================== short test summary info ===========================
FAILED tests/test_b.py::test_two[cuda]
===========================
`

	failures := ExtractFailures(log, "job")

	require.Len(t, failures, 1)
	assert.Equal(t, "tests/test_b.py::test_two[cuda]", failures[0].TestID)
}

func TestExtractFailures_NameOnlyBanner(t *testing.T) {
	log := `collected 2 items
tests/v1/test_async_llm.py::test_load[ray] FAILED
=================================== FAILURES ===================================
_______________________ test_load[ray] _______________________
RuntimeError: Engine core initialization failed
`

	failures := ExtractFailures(log, "Async Engine Test")

	require.Len(t, failures, 1)
	assert.Equal(t, "tests/v1/test_async_llm.py::test_load[ray]", failures[0].TestID)
	assert.Equal(t, "RuntimeError", failures[0].ErrorType)
	assert.Equal(t, "Engine core initialization failed", failures[0].ErrorMessage)
}

func TestExtractFailures_SummaryLineDetail(t *testing.T) {
	log := `collected 10 items
tests/test_sampler.py::test_greedy FAILED
=========================== short test summary info ============================
FAILED tests/test_sampler.py::test_greedy - AssertionError: logits mismatch
`

	failures := ExtractFailures(log, "Samplers Test")

	require.Len(t, failures, 1)
	assert.Equal(t, "AssertionError", failures[0].ErrorType)
	assert.Equal(t, "logits mismatch", failures[0].ErrorMessage)
}

func TestExtractFailures_NoPytestOutput(t *testing.T) {
	log := "docker: error pulling image\nexit status 1\n"

	failures := ExtractFailures(log, "Build Image")

	require.Len(t, failures, 1)
	assert.Equal(t, "Build Image", failures[0].TestID)
	assert.Equal(t, "Build Image", failures[0].JobName)
	assert.Equal(t, JobLevelFailureMessage, failures[0].ErrorMessage)
	assert.Contains(t, failures[0].LogExcerpt, "exit status 1")
}

func TestExtractFailures_ExcerptBounded(t *testing.T) {
	section := strings.Repeat("x", 4*MaxLogExcerptLength)
	log := "tests/test_c.py::test_big FAILED\n" +
		"____________________ tests/test_c.py::test_big ____________________\n" +
		section + "\n"

	failures := ExtractFailures(log, "job")

	require.Len(t, failures, 1)
	assert.LessOrEqual(t, len(failures[0].LogExcerpt), MaxLogExcerptLength)
}

func TestExtractFailures_DuplicatesCollapsed(t *testing.T) {
	log := "tests/test_a.py::test_one FAILED\nFAILED tests/test_a.py::test_one\n"

	failures := ExtractFailures(log, "job")

	require.Len(t, failures, 1)
}

func TestFindTestOutcome_Failed(t *testing.T) {
	outcome := FindTestOutcome(sampleFailureLog, "tests/test_engine.py::test_batching")

	assert.True(t, outcome.Found)
	assert.Equal(t, StatusFail, outcome.Status)
	assert.Contains(t, outcome.ErrorMessage, "RuntimeError")
}

func TestFindTestOutcome_Passed(t *testing.T) {
	outcome := FindTestOutcome(sampleFailureLog, "tests/test_engine.py::test_generate")

	assert.True(t, outcome.Found)
	assert.Equal(t, StatusPass, outcome.Status)
}

func TestFindTestOutcome_NotFound(t *testing.T) {
	outcome := FindTestOutcome(sampleFailureLog, "tests/test_engine.py::test_missing")

	assert.False(t, outcome.Found)
	assert.Equal(t, StatusUnknown, outcome.Status)
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "FAILED", StripANSI("\x1b[31mFAILED\x1b[0m"))
	assert.Equal(t, "line", StripANSI("_bk;t=1704067200000\x07line"))
}

func TestBudget_Tracking(t *testing.T) {
	budget := NewBudget()
	budget.MaxLogBytes = 25_000

	assert.True(t, budget.CanFetchLog(EstimatedLogSizePerJob))
	budget.RecordLogFetch(20_000)

	assert.False(t, budget.CanFetchLog(EstimatedLogSizePerJob))
	assert.True(t, budget.Exhausted())
}

func TestBudget_WarningRecordedOnce(t *testing.T) {
	budget := NewBudget()
	budget.MaxLogBytes = 1

	assert.False(t, budget.CanFetchLog(EstimatedLogSizePerJob))
	assert.False(t, budget.CanFetchLog(EstimatedLogSizePerJob))

	require.Len(t, budget.Warnings(), 1)
	assert.Contains(t, budget.Warnings()[0], "log budget exhausted")
}
