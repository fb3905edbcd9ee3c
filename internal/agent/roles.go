// Package agent implements the Agent Invocation Layer (C1): a uniform
// call contract over a language-model backend for one of the
// orchestrator's roles, returning a typed Result instead of raising
// errors into the scheduler.
package agent

// Role identifies one of the orchestrator's agent roles. Each role has a
// fixed tool capability set (see ToolsForRole) bounding its blast radius.
type Role string

const (
	RoleProductManager    Role = "product_manager"
	RoleArchitect         Role = "architect"
	RoleTechLead          Role = "tech_lead"
	RoleSprintPlanner     Role = "sprint_planner"
	RoleIssueWriter       Role = "issue_writer"
	RoleCoder             Role = "coder"
	RoleQA                Role = "qa"
	RoleReviewer          Role = "reviewer"
	RoleSynthesizer       Role = "synthesizer"
	RoleAdvisorLite       Role = "advisor_lite"
	RoleAdvisor           Role = "advisor"
	RoleReplanner         Role = "replanner"
	RoleMerger            Role = "merger"
	RoleIntegrationTester Role = "integration_tester"
	RoleVerifier          Role = "verifier"
	RoleFixGenerator      Role = "fix_generator"
)

// AllRoles lists every role the layer knows how to route, in the order
// they first appear in the pipeline.
var AllRoles = []Role{
	RoleProductManager, RoleArchitect, RoleTechLead, RoleSprintPlanner,
	RoleIssueWriter, RoleCoder, RoleQA, RoleReviewer, RoleSynthesizer,
	RoleAdvisorLite, RoleAdvisor, RoleReplanner, RoleMerger,
	RoleIntegrationTester, RoleVerifier, RoleFixGenerator,
}

// ToolCapability is one enumerated capability a role's invocation may be
// granted (spec §6 role→tool matrix).
type ToolCapability string

const (
	ToolRead     ToolCapability = "READ"
	ToolGlob     ToolCapability = "GLOB"
	ToolGrep     ToolCapability = "GREP"
	ToolBashRead ToolCapability = "BASH_READ"
	ToolWrite    ToolCapability = "WRITE"
	ToolEdit     ToolCapability = "EDIT"
	ToolBash     ToolCapability = "BASH"
)

var readOnlyTools = []ToolCapability{ToolRead, ToolGlob, ToolGrep, ToolBashRead}

// writeTools are read-only tools plus WRITE/EDIT (not full BASH — per
// spec §6 the write-role grant is "add WRITE, EDIT", not unrestricted
// shell).
var writeTools = append(append([]ToolCapability{}, readOnlyTools...), ToolWrite, ToolEdit)

// coderTools additionally grants full BASH: the coder "operates inside
// the issue's worktree with full file + shell tools" (spec §4.6).
var coderTools = append(append([]ToolCapability{}, writeTools...), ToolBash)

// ToolsForRole returns the capability set granted to a role (spec §6).
func ToolsForRole(role Role) []ToolCapability {
	switch role {
	case RoleProductManager, RoleTechLead, RoleReviewer, RoleVerifier,
		RoleAdvisor, RoleReplanner, RoleSprintPlanner, RoleAdvisorLite:
		return readOnlyTools
	case RoleArchitect, RoleIssueWriter, RoleQA, RoleFixGenerator,
		RoleMerger, RoleIntegrationTester:
		return writeTools
	case RoleCoder:
		return coderTools
	default:
		return readOnlyTools
	}
}
