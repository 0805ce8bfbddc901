package hosts

import (
	"context"
	"fmt"
	"time"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/secure"
)

// StepKind distinguishes file transfers from commands
type StepKind string

const (
	StepTransfer StepKind = "transfer"
	StepCommand  StepKind = "command"
)

// Outcome is the result of one attempted step
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
)

// Step is one unit of a certificate deployment
type Step struct {
	Kind   StepKind
	Client string
	// SubKey and Destination are set for transfers
	SubKey      string
	Destination string
	// Command is set for commands
	Command string
}

func (s Step) String() string {
	if s.Kind == StepTransfer {
		return fmt.Sprintf("Putting %s at %s", s.SubKey, s.Destination)
	}
	return fmt.Sprintf("Running '%s' via %s", s.Command, s.Client)
}

// StepResult records how an attempted step ended
type StepResult struct {
	Step     Step
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Report lists every step a deployment attempted, in order. Steps after a
// failure were never attempted and are absent.
type Report struct {
	Host    string
	Cert    string
	Results []StepResult
}

// Completed counts the steps that succeeded
func (r *Report) Completed() int {
	n := 0
	for _, result := range r.Results {
		if result.Outcome == Succeeded {
			n++
		}
	}
	return n
}

// Failed returns the failed step, if any
func (r *Report) Failed() (StepResult, bool) {
	for _, result := range r.Results {
		if result.Outcome == Failed {
			return result, true
		}
	}
	return StepResult{}, false
}

// Progress is told about each step just before it runs
type Progress func(step Step)

// Plan expands a deployment into its ordered steps: transfers of fullchain,
// private, chain and cert (those with a destination), then each post action's
// commands in order.
func Plan(cert CertConfig) []Step {
	steps := transferSteps(cert.Deploy)
	for _, post := range cert.Deploy.Post {
		steps = append(steps, commandSteps(post)...)
	}
	return steps
}

func transferSteps(deploy DeployConfig) []Step {
	var steps []Step
	components := []struct{ subKey, destination string }{
		{"fullchain", deploy.Fullchain},
		{"private", deploy.Private},
		{"chain", deploy.Chain},
		{"cert", deploy.Cert},
	}
	for _, c := range components {
		if c.destination == "" {
			continue
		}
		steps = append(steps, Step{
			Kind:        StepTransfer,
			Client:      deploy.Client,
			SubKey:      c.subKey,
			Destination: c.destination,
		})
	}
	return steps
}

func commandSteps(post ClientAction) []Step {
	steps := make([]Step, 0, len(post.Actions))
	for _, command := range post.Actions {
		steps = append(steps, Step{Kind: StepCommand, Client: post.Client, Command: command})
	}
	return steps
}

// DeployCert pushes a certificate's components and runs its post-deployment
// commands. Execution stops at the first failure; completed steps are not
// undone, so the returned report shows how far the deployment got. Running
// it again converges because every transfer overwrites its destination.
func (h *Host) DeployCert(ctx context.Context, cert CertConfig, progress Progress) (*Report, error) {
	report := &Report{Host: h.name, Cert: cert.Name}
	started := time.Now()
	defer func() {
		h.metrics.observeDeployment(time.Since(started))
	}()

	// one instance per client name for the whole deployment
	resolved := map[string]Client{}
	defer func() {
		for name, client := range resolved {
			if err := client.Close(); err != nil {
				h.logger.Debug("Closing client %s: %v", name, err)
			}
		}
	}()
	resolve := func(name, purpose string) (Client, error) {
		if client, ok := resolved[name]; ok {
			return client, nil
		}
		client, err := h.ClientByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, qerrors.NotFoundError{
				Kind:  "host client",
				Name:  name,
				Scope: fmt.Sprintf("host %s for %s", h.name, purpose),
			}
		}
		resolved[name] = client
		return client, nil
	}

	if _, err := resolve(cert.Deploy.Client, "certificate deployment"); err != nil {
		return report, err
	}

	total := len(Plan(cert))
	stop := func(err error) error {
		return fmt.Errorf("deployment of %s to %s stopped after %d of %d steps: %w",
			cert.Name, h.name, report.Completed(), total, err)
	}
	execute := func(step Step) error {
		if progress != nil {
			progress(step)
		}
		began := time.Now()
		err := h.runStep(ctx, cert, step, resolve)
		result := StepResult{Step: step, Outcome: Succeeded, Err: err, Duration: time.Since(began)}
		if err != nil {
			result.Outcome = Failed
		}
		report.Results = append(report.Results, result)
		h.metrics.observeStep(result)
		return err
	}

	for _, step := range transferSteps(cert.Deploy) {
		if err := execute(step); err != nil {
			return report, stop(err)
		}
	}

	for _, post := range cert.Deploy.Post {
		// a post group's client must exist even when it has nothing to run
		if _, err := resolve(post.Client, "post-deployment actions"); err != nil {
			if steps := commandSteps(post); len(steps) > 0 {
				err = execute(steps[0])
			}
			return report, stop(err)
		}
		for _, step := range commandSteps(post) {
			if err := execute(step); err != nil {
				return report, stop(err)
			}
		}
	}
	return report, nil
}

func (h *Host) runStep(ctx context.Context, cert CertConfig, step Step, resolve func(name, purpose string) (Client, error)) error {
	switch step.Kind {
	case StepTransfer:
		client, err := resolve(step.Client, "certificate deployment")
		if err != nil {
			return err
		}
		data, err := h.keys.GetKey(ctx, cert.Secret+"@"+step.SubKey)
		if err != nil {
			return err
		}
		material := secure.Seal(data)
		defer material.Destroy()
		return material.Use(func(plain []byte) error {
			return client.PutData(ctx, step.Destination, plain)
		})

	case StepCommand:
		client, err := resolve(step.Client, "post-deployment actions")
		if err != nil {
			return err
		}
		return client.Action(ctx, step.Command)

	default:
		return fmt.Errorf("unknown deployment step kind %q", step.Kind)
	}
}
