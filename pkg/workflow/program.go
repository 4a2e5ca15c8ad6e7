// Package workflow compiles workflow definitions into linear, checkpointable programs
// and ships the predefined follow-up workflows.
package workflow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/followup/pkg/condition"
	"github.com/dukex/followup/pkg/models"
)

// ErrInvalidDefinition wraps every compile failure.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// OpCode is the kind of a program instruction.
type OpCode string

const (
	// OpAction runs one side-effecting or delay action.
	OpAction OpCode = "action"
	// OpBranch evaluates conditions; when false, execution continues at FalseTarget.
	OpBranch OpCode = "branch"
	// OpJump moves the program counter forward to Target without running anything.
	OpJump OpCode = "jump"
)

// Instruction is one step of a compiled program.
type Instruction struct {
	Op     OpCode
	Action models.Action
	// Path locates the authored action, e.g. "1.true.0".
	Path string

	// FalseTarget is the first instruction of the false branch (or End when it is empty).
	FalseTarget int
	// End is the first instruction after the whole branch.
	End int
	// Target is the jump destination.
	Target int
}

// ActionID returns the authored action id, falling back to the path.
func (i Instruction) ActionID() string {
	if i.Action.ID != "" {
		return i.Action.ID
	}

	return i.Path
}

// Program is the linear form of a workflow's action tree. Every jump goes forward,
// so a program counter persisted as the execution checkpoint only increases.
type Program struct {
	WorkflowID   string
	Version      int
	Instructions []Instruction
}

// Len returns the number of instructions.
func (p *Program) Len() int {
	return len(p.Instructions)
}

// At returns the instruction at pc.
func (p *Program) At(pc int) (Instruction, bool) {
	if pc < 0 || pc >= len(p.Instructions) {
		return Instruction{}, false
	}

	return p.Instructions[pc], true
}

// Compile validates workflow's actions and flattens them into a Program.
func Compile(workflow *models.WorkflowDefinition) (*Program, error) {
	c := &compiler{ids: map[string]string{}}

	c.emit(workflow.Actions, "")

	if len(c.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, errors.Join(c.errs...))
	}

	if len(c.instructions) == 0 {
		return nil, fmt.Errorf("%w: workflow has no actions", ErrInvalidDefinition)
	}

	return &Program{
		WorkflowID:   workflow.ID,
		Version:      workflow.Version,
		Instructions: c.instructions,
	}, nil
}

type compiler struct {
	instructions []Instruction
	ids          map[string]string
	errs         []error
}

func (c *compiler) emit(actions []models.Action, prefix string) {
	for i, action := range actions {
		path := joinPath(prefix, strconv.Itoa(i))

		c.check(action, path)

		branch, isBranch := action.Spec.(models.Branch)
		if !isBranch {
			c.instructions = append(c.instructions, Instruction{Op: OpAction, Action: action, Path: path})

			continue
		}

		at := len(c.instructions)
		c.instructions = append(c.instructions, Instruction{Op: OpBranch, Action: action, Path: path})

		c.emit(branch.TrueActions, joinPath(path, "true"))

		if len(branch.FalseActions) == 0 {
			c.instructions[at].FalseTarget = len(c.instructions)
			c.instructions[at].End = len(c.instructions)

			continue
		}

		jump := len(c.instructions)
		c.instructions = append(c.instructions, Instruction{Op: OpJump, Path: joinPath(path, "jump")})
		c.instructions[at].FalseTarget = len(c.instructions)

		c.emit(branch.FalseActions, joinPath(path, "false"))

		c.instructions[jump].Target = len(c.instructions)
		c.instructions[at].End = len(c.instructions)
	}
}

func (c *compiler) check(action models.Action, path string) {
	fail := func(format string, args ...any) {
		c.errs = append(c.errs, fmt.Errorf("action %s: %s", path, fmt.Sprintf(format, args...)))
	}

	if action.ID != "" {
		if other, seen := c.ids[action.ID]; seen {
			fail("duplicate id %q (also used at %s)", action.ID, other)
		}

		c.ids[action.ID] = path
	}

	switch spec := action.Spec.(type) {
	case nil:
		fail("missing type")
	case models.Delay:
		if spec.Hours < 0 || spec.Minutes < 0 {
			fail("delay cannot be negative")
		}
	case models.Branch:
		err := condition.Validate(spec.Conditions, spec.Logic)
		if err != nil {
			fail("%v", err)
		}
	case models.SendEmail:
		checkMessage(spec.Message, fail)
	case models.SendChatMessage:
		checkMessage(spec.Message, fail)

		if spec.TemplateRef == "" {
			fail("chat messages require template_ref")
		}
	case models.SendNotification:
		checkMessage(spec.Message, fail)
	case models.UpdateStatus:
		if spec.StatusField == "" {
			fail("status_field is required")
		}

		if spec.EntityType != "" && !spec.EntityType.IsValid() {
			fail("unknown entity type %q", spec.EntityType)
		}
	case models.Webhook:
		if spec.URL == "" {
			fail("url is required")
		}
	}
}

func checkMessage(msg models.Message, fail func(string, ...any)) {
	if msg.RecipientPath == "" {
		fail("recipient_path is required")
	}

	if msg.TemplateRef == "" && msg.BodyTemplate == "" {
		fail("template_ref or body_template is required")
	}
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}

	return strings.Join([]string{prefix, segment}, ".")
}
