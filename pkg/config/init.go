package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AssistantCommand is a slash command file under .claude/commands/.
type AssistantCommand struct {
	// Name is the command name (filename without extension).
	Name string

	// Content is the command definition.
	Content string

	// Path is the file path.
	Path string
}

// VerifyCommandName is the slash command installed by Init.
const VerifyCommandName = "verify"

// verifyCommand tells a coding assistant how to drive the loop.
const verifyCommand = `Verify the change you just made with vloop before reporting it as done.

1. Classify the change: logic_only, ui_change, form_interactive, api_route or full_feature.
2. Run ` + "`vloop run --type <change-type> --feature <feature>`" + `.
3. If a stage fails, read the failed checks, fix the cause, and run ` + "`vloop step`" + ` again.
   A stage may be attempted three times; after that stop and report the escalation to the user.
4. Only report success when the run reaches done. Quote the "Not verified" section of
   ` + "`vloop report`" + ` verbatim; never claim a stage passed that was not executed.
5. Complete criteria with ` + "`vloop criteria complete <id> --run <run-id>`" + `.
`

// Init creates .vloop.toml and the assistant verify command in projectRoot.
// Existing files are left untouched. It returns the paths it created.
func Init(projectRoot string) ([]string, error) {
	var created []string

	cfgPath := filepath.Join(projectRoot, FileName)
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := os.WriteFile(cfgPath, []byte(Template), 0o644); err != nil {
			return created, fmt.Errorf("write %s: %w", FileName, err)
		}
		created = append(created, cfgPath)
	}

	commandsDir := filepath.Join(projectRoot, ".claude", "commands")
	if err := os.MkdirAll(commandsDir, 0o755); err != nil {
		return created, fmt.Errorf("create commands directory: %w", err)
	}
	cmdPath := filepath.Join(commandsDir, VerifyCommandName+".md")
	if _, err := os.Stat(cmdPath); os.IsNotExist(err) {
		if err := os.WriteFile(cmdPath, []byte(verifyCommand), 0o644); err != nil {
			return created, fmt.Errorf("write verify command: %w", err)
		}
		created = append(created, cmdPath)
	}

	return created, nil
}

// LoadAssistantCommands reads .claude/commands/*.md from projectRoot. A
// missing directory yields no commands.
func LoadAssistantCommands(projectRoot string) ([]AssistantCommand, error) {
	dir := filepath.Join(projectRoot, ".claude", "commands")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read commands: %w", err)
	}

	var out []AssistantCommand
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		out = append(out, AssistantCommand{
			Name:    strings.TrimSuffix(entry.Name(), ".md"),
			Content: string(content),
			Path:    path,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
