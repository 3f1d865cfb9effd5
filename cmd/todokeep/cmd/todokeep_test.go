package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"todokeep/store"
)

// testEnv creates an isolated config and database for one test.
type testEnv struct {
	dbPath     string
	configPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	return &testEnv{
		dbPath:     filepath.Join(dir, "todos.db"),
		configPath: filepath.Join(dir, "config.yaml"),
	}
}

// run executes the CLI against the test database and returns exit
// code plus captured output.
func (e *testEnv) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(args, &stdout, &stderr, &Options{
		ConfigPath: e.configPath,
		DBPath:     e.dbPath,
	})
	return code, stdout.String(), stderr.String()
}

// mustRun fails the test on a non-zero exit code.
func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	code, stdout, stderr := e.run(t, args...)
	if code != 0 {
		t.Fatalf("command %v failed (exit %d): %s", args, code, stderr)
	}
	return stdout
}

// addAndGetID creates a todo and returns its id from JSON output.
func (e *testEnv) addAndGetID(t *testing.T, args ...string) string {
	t.Helper()
	out := e.mustRun(t, append([]string{"add"}, append(args, "--json")...)...)
	var todo store.Todo
	if err := json.Unmarshal([]byte(out), &todo); err != nil {
		t.Fatalf("could not parse add output: %v\n%s", err, out)
	}
	return todo.ID
}

func TestAddAndList(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun(t, "add", "Buy milk")
	if !strings.Contains(out, "Added: Buy milk") {
		t.Errorf("unexpected add output: %q", out)
	}

	out = env.mustRun(t, "list")
	if !strings.Contains(out, "Buy milk") {
		t.Errorf("expected list to contain the new todo, got: %q", out)
	}
}

func TestAddWithFlags(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun(t, "add", "Ship release",
		"--priority", "high", "--due", "tomorrow", "--tag", "Work,urgent", "--json")

	var todo store.Todo
	if err := json.Unmarshal([]byte(out), &todo); err != nil {
		t.Fatalf("could not parse JSON output: %v\n%s", err, out)
	}
	if todo.Priority != store.PriorityHigh {
		t.Errorf("expected high priority, got %q", todo.Priority)
	}
	if todo.DueDate == nil {
		t.Error("expected a due date")
	}
	if len(todo.Tags) != 2 || todo.Tags[0] != "work" || todo.Tags[1] != "urgent" {
		t.Errorf("expected normalized tags [work urgent], got %v", todo.Tags)
	}
}

func TestAddRejectsInvalidPriority(t *testing.T) {
	env := newTestEnv(t)

	code, _, stderr := env.run(t, "add", "Task", "--priority", "critical")
	if code == 0 {
		t.Fatal("expected non-zero exit for invalid priority")
	}
	if !strings.Contains(stderr, "priority") {
		t.Errorf("expected priority error, got: %q", stderr)
	}
}

func TestListFilters(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "add", "Work task", "--tag", "work")
	env.mustRun(t, "add", "Home task", "--tag", "home")

	out := env.mustRun(t, "list", "--tag", "work")
	if !strings.Contains(out, "Work task") || strings.Contains(out, "Home task") {
		t.Errorf("tag filter not applied: %q", out)
	}

	out = env.mustRun(t, "list", "--search", "home")
	if !strings.Contains(out, "Home task") || strings.Contains(out, "Work task") {
		t.Errorf("search filter not applied: %q", out)
	}
}

func TestListJSONEmptyIsArray(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun(t, "list", "--json")
	var todos []store.Todo
	if err := json.Unmarshal([]byte(out), &todos); err != nil {
		t.Fatalf("expected a JSON array, got: %q", out)
	}
	if len(todos) != 0 {
		t.Errorf("expected empty array, got %d entries", len(todos))
	}
}

func TestDoneTogglesCompletion(t *testing.T) {
	env := newTestEnv(t)
	id := env.addAndGetID(t, "Toggle me")

	out := env.mustRun(t, "done", id)
	if !strings.Contains(out, "Marked completed") {
		t.Errorf("unexpected done output: %q", out)
	}

	out = env.mustRun(t, "done", id)
	if !strings.Contains(out, "Marked pending") {
		t.Errorf("expected second toggle to mark pending, got: %q", out)
	}
}

func TestCompletedAndPendingAreExclusive(t *testing.T) {
	env := newTestEnv(t)

	code, _, stderr := env.run(t, "list", "--completed", "--pending")
	if code == 0 {
		t.Fatal("expected non-zero exit for conflicting flags")
	}
	if !strings.Contains(stderr, "mutually exclusive") {
		t.Errorf("expected mutual exclusion error, got: %q", stderr)
	}
}

func TestUpdateClearDue(t *testing.T) {
	env := newTestEnv(t)
	id := env.addAndGetID(t, "Has due", "--due", "tomorrow")

	out := env.mustRun(t, "update", id, "--due", "", "--json")
	var todo store.Todo
	if err := json.Unmarshal([]byte(out), &todo); err != nil {
		t.Fatalf("could not parse update output: %v\n%s", err, out)
	}
	if todo.DueDate != nil {
		t.Errorf("expected due date cleared, got %v", todo.DueDate)
	}
}

func TestRemoveUnknownIDFails(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "add", "Keep me")

	code, _, stderr := env.run(t, "rm", "no-such-id")
	if code == 0 {
		t.Fatal("expected non-zero exit for unknown id")
	}
	if !strings.Contains(stderr, "not found") {
		t.Errorf("expected not found error, got: %q", stderr)
	}
}

func TestBulkDoneIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	id := env.addAndGetID(t, "Real todo")

	code, _, _ := env.run(t, "bulk-done", id, "missing-id")
	if code == 0 {
		t.Fatal("expected bulk-done with a missing id to fail")
	}

	// The real todo must be untouched after the rollback.
	out := env.mustRun(t, "list", "--pending")
	if !strings.Contains(out, "Real todo") {
		t.Errorf("expected todo to remain pending after failed bulk, got: %q", out)
	}
}

func TestStatsOutput(t *testing.T) {
	env := newTestEnv(t)
	id := env.addAndGetID(t, "Done one")
	env.mustRun(t, "add", "Open one")
	env.mustRun(t, "done", id)

	out := env.mustRun(t, "stats")
	for _, want := range []string{"Total:     2", "Completed: 1", "Pending:   1"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected stats to contain %q, got:\n%s", want, out)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "add", "First", "--tag", "a")
	env.mustRun(t, "add", "Second", "--priority", "high")

	exportPath := filepath.Join(t.TempDir(), "export.json")
	env.mustRun(t, "export", "-o", exportPath)

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("could not read export file: %v", err)
	}
	var exported []store.Todo
	if err := json.Unmarshal(data, &exported); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(exported) != 2 {
		t.Fatalf("expected 2 exported todos, got %d", len(exported))
	}

	// Import into a fresh database.
	other := newTestEnv(t)
	out := other.mustRun(t, "import", exportPath)
	if !strings.Contains(out, "Imported 2 todos") {
		t.Errorf("unexpected import output: %q", out)
	}

	listed := other.mustRun(t, "list")
	if !strings.Contains(listed, "First") || !strings.Contains(listed, "Second") {
		t.Errorf("imported todos missing from list: %q", listed)
	}
}

func TestImportRejectsInvalidFile(t *testing.T) {
	env := newTestEnv(t)

	badPath := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(badPath, []byte("not json"), 0600); err != nil {
		t.Fatalf("could not write bad file: %v", err)
	}

	code, _, stderr := env.run(t, "import", badPath)
	if code == 0 {
		t.Fatal("expected non-zero exit for invalid import file")
	}
	if !strings.Contains(stderr, "invalid import file") {
		t.Errorf("expected parse error, got: %q", stderr)
	}
}

func TestTagsListsDistinctSorted(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "add", "One", "--tag", "zeta,alpha")
	env.mustRun(t, "add", "Two", "--tag", "alpha")

	out := env.mustRun(t, "tags")
	lines := strings.Fields(out)
	if len(lines) != 2 || lines[0] != "alpha" || lines[1] != "zeta" {
		t.Errorf("expected sorted distinct tags [alpha zeta], got %v", lines)
	}
}

func TestTodayListsOverdue(t *testing.T) {
	env := newTestEnv(t)
	env.addAndGetID(t, "Overdue", "--due", "yesterday")
	env.mustRun(t, "add", "Far future", "--due", "+4w")

	out := env.mustRun(t, "today")
	if !strings.Contains(out, "Overdue") {
		t.Errorf("expected overdue todo in today output: %q", out)
	}
	if strings.Contains(out, "Far future") {
		t.Errorf("did not expect future todo in today output: %q", out)
	}
}
