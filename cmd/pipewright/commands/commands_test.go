package commands

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pipewright/internal/executor"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/retry"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
	"git.home.luguber.info/inful/pipewright/internal/testutil"
)

const testManifest = `
workflow:
  rules:
    - ref: '/^wip/'
      when: never
    - when: always
compile:
  stage: build
  script: [make]
unit:
  stage: test
  needs: [compile]
  script: [make test]
deploy:
  stage: deploy
  script: [make deploy]
  rules:
    - kind: tag
`

type project struct {
	dir    string
	config string
}

func newProject(t *testing.T, manifest string) project {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pipewright.yaml")
	testutil.NewConfigBuilder(t).WithDataDir(filepath.Join(dir, "data")).BuildAndSave(cfgPath)
	if manifest != "" {
		testutil.WriteManifest(t, dir, manifest)
	}
	return project{dir: dir, config: cfgPath}
}

// execute parses args like main does and runs the selected command.
func execute(t *testing.T, p project, exec executor.Executor, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cli := &CLI{}
	cli.Run.executor = exec
	g := &Global{Out: &out}
	parser, err := kong.New(cli,
		kong.Name("pipewright"),
		kong.Vars{"version": "test"},
		kong.Bind(g),
		kong.Exit(func(int) {}),
	)
	require.NoError(t, err)

	kctx, err := parser.Parse(append([]string{"-c", p.config, "-C", p.dir}, args...))
	if err != nil {
		return out.String(), err
	}
	err = kctx.Run(g, cli)
	return out.String(), err
}

func succeed(context.Context, executor.JobSpec) executor.Result {
	return executor.Result{Status: executor.StatusSuccess}
}

func exitCode(err error) int {
	return errors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err)
}

func TestValidate(t *testing.T) {
	p := newProject(t, testManifest)
	out, err := execute(t, p, nil, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "is valid: 3 jobs")
}

func TestValidateReportsProblems(t *testing.T) {
	p := newProject(t, "unit:\n  stage: test\n  needs: [missing]\n  script: [x]\n")
	out, err := execute(t, p, nil, "validate")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, out, `needs unknown job "missing"`)
}

func TestPlanJSON(t *testing.T) {
	p := newProject(t, testManifest)
	out, err := execute(t, p, nil, "plan", "--ref", "main", "--kind", "branch", "--json")
	require.NoError(t, err)

	var view planView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.False(t, view.Rejected)
	assert.Equal(t, "demo", view.Context.Workspace)
	require.Len(t, view.Order, 2)
	assert.Equal(t, "compile", view.Order[0].Name)
	assert.Equal(t, []string{"compile"}, view.Order[1].Needs)
	require.Len(t, view.Excluded, 1)
	assert.Equal(t, "deploy", view.Excluded[0].Name)
}

func TestPlanText(t *testing.T) {
	p := newProject(t, testManifest)
	out, err := execute(t, p, nil, "plan", "--ref", "v1.0.0", "--kind", "tag")
	require.NoError(t, err)
	assert.Contains(t, out, "stage deploy: deploy")
	assert.Regexp(t, regexp.MustCompile(`2\s+unit\s+test\s+compile`), out)

	out, err = execute(t, p, nil, "plan", "--ref", "wip/spike")
	require.NoError(t, err)
	assert.Contains(t, out, "Workflow rules create no run")
}

func TestPlanRejectsUnknownKind(t *testing.T) {
	p := newProject(t, testManifest)
	_, err := execute(t, p, nil, "plan", "--ref", "main", "--kind", "nightly")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestRunWritesReportAndHistory(t *testing.T) {
	p := newProject(t, testManifest)
	reportPath := filepath.Join(p.dir, "out", "report.md")

	out, err := execute(t, p, executor.Func(succeed), "run", "--ref", "main", "--report", reportPath, "--json")
	require.NoError(t, err)

	var o scheduler.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &o))
	assert.Equal(t, scheduler.RunSucceeded, o.Status)
	assert.Len(t, o.Jobs, 2)

	md, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), o.RunID)

	out, err = execute(t, p, nil, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, o.RunID)
	assert.Contains(t, out, "succeeded")

	out, err = execute(t, p, nil, "runs", "show", o.RunID)
	require.NoError(t, err)
	assert.Contains(t, out, "Run "+o.RunID+": succeeded")
	assert.Contains(t, out, "compile")
}

func TestRunFailureExitCode(t *testing.T) {
	p := newProject(t, testManifest)
	fail := executor.Func(func(_ context.Context, spec executor.JobSpec) executor.Result {
		if spec.Job == "compile" {
			return executor.Failed(retry.ScriptFailure, stderrors.New("exit status 2"))
		}
		return executor.Result{Status: executor.StatusSuccess}
	})

	out, err := execute(t, p, fail, "run", "--ref", "main")
	require.Error(t, err)
	assert.Equal(t, 11, exitCode(err))
	assert.Contains(t, out, "failed")
}

func TestRunRejectedByWorkflow(t *testing.T) {
	p := newProject(t, testManifest)
	out, err := execute(t, p, executor.Func(succeed), "run", "--ref", "wip/x")
	require.NoError(t, err)
	assert.Contains(t, out, "No run created")
}

func TestRunsShowUnknown(t *testing.T) {
	p := newProject(t, testManifest)
	_, err := execute(t, p, nil, "runs", "show", "nope")
	require.Error(t, err)
	assert.Equal(t, 4, exitCode(err))
}

func TestArtifactsPruneEmpty(t *testing.T) {
	p := newProject(t, testManifest)
	out, err := execute(t, p, nil, "artifacts", "prune")
	require.NoError(t, err)
	assert.Contains(t, out, "0 bundle(s) deleted")
}

func TestInit(t *testing.T) {
	p := newProject(t, "")
	require.NoError(t, os.Remove(p.config))

	out, err := execute(t, p, nil, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Writing example manifest")
	assert.FileExists(t, p.config)
	assert.FileExists(t, filepath.Join(p.dir, ".pipewright.yml"))

	_, err = execute(t, p, nil, "validate")
	require.NoError(t, err)

	_, err = execute(t, p, nil, "init")
	require.Error(t, err)

	_, err = execute(t, p, nil, "init", "--force")
	require.NoError(t, err)
}

func TestOutcomeError(t *testing.T) {
	assert.NoError(t, outcomeError(&scheduler.Outcome{Status: scheduler.RunSucceeded}))

	err := outcomeError(&scheduler.Outcome{RunID: "r", Status: scheduler.RunCanceled, CancelReason: "interrupted"})
	assert.True(t, errors.HasCategory(err, errors.CategoryRuntime))

	err = outcomeError(&scheduler.Outcome{RunID: "r", Status: scheduler.RunFailed})
	assert.True(t, errors.HasCategory(err, errors.CategoryJob))
}

func TestLogLevel(t *testing.T) {
	c := &CLI{}
	t.Setenv("PIPEWRIGHT_LOG_LEVEL", "")
	assert.Equal(t, "INFO", c.logLevel("").String())
	assert.Equal(t, "WARN", c.logLevel("warn").String())

	t.Setenv("PIPEWRIGHT_LOG_LEVEL", "debug")
	assert.Equal(t, "DEBUG", c.logLevel("error").String())

	c.Verbose = true
	t.Setenv("PIPEWRIGHT_LOG_LEVEL", "error")
	assert.Equal(t, "DEBUG", c.logLevel("").String())
}
