package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/scanbridge/cmd/scanbridge/cmd"
)

// binaryName is the program name feature files start their commands with.
const binaryName = "scanbridge"

// RegisterCommonSteps registers command execution and output assertions.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	// Command execution
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^I run "([^"]*)" with input "([^"]*)"$`, testCtx.iRunCommandWithInput)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)

	// Output assertions
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be "([^"]*)"$`, testCtx.theOutputShouldBe)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON should contain "([^"]*)"$`, testCtx.theJSONShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the output should have (\d+) lines$`, testCtx.theOutputShouldHaveLines)

	// Error assertions
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)

	// File assertions
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
}

func (testCtx *TestContext) iRunCommand(command string) error {
	return testCtx.runCommand(command, "")
}

// iRunCommandWithInput feeds input to stdin; "\n" in the step text becomes a
// line break and a final newline is always appended.
func (testCtx *TestContext) iRunCommandWithInput(command, input string) error {
	return testCtx.runCommand(command, strings.ReplaceAll(input, `\n`, "\n")+"\n")
}

// runCommand executes the root command in-process and records its outcome.
func (testCtx *TestContext) runCommand(command, stdin string) error {
	command = testCtx.substituteCommandVariables(command)

	testCtx.LastCommand = command
	testCtx.LastStartTime = time.Now()

	parts, err := splitArgs(command)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return errors.New("empty command")
	}
	if parts[0] != binaryName {
		return fmt.Errorf("unsupported command %q, expected %s", parts[0], binaryName)
	}

	cmd.ResetState()
	root := cmd.GetRootCommand()
	var output bytes.Buffer
	root.SetOut(&output)
	root.SetErr(&output)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(parts[1:])
	defer func() {
		root.SetOut(nil)
		root.SetErr(nil)
		root.SetIn(nil)
		root.SetArgs(nil)
		cmd.ResetState()
	}()

	err = root.Execute()
	testCtx.LastOutput = output.String()
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(testCtx.LastStartTime)
	if err != nil {
		testCtx.LastExitCode = 1
	} else {
		testCtx.LastExitCode = 0
	}
	return nil
}

// splitArgs splits on whitespace; single quotes group words.
func splitArgs(command string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		inQuote bool
		hasWord bool
	)
	for _, r := range command {
		switch {
		case r == '\'':
			inQuote = !inQuote
			hasWord = true
		case (r == ' ' || r == '\t') && !inQuote:
			if hasWord {
				args = append(args, current.String())
				current.Reset()
				hasWord = false
			}
		default:
			current.WriteRune(r)
			hasWord = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote in %q", command)
	}
	if hasWord {
		args = append(args, current.String())
	}
	return args, nil
}

// theCommandShouldSucceed verifies the command succeeded.
func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

// theCommandShouldFail verifies the command failed.
func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldContain verifies the output contains specific text.
func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldBe compares the output without its trailing newline.
func (testCtx *TestContext) theOutputShouldBe(expected string) error {
	if got := strings.TrimRight(testCtx.LastOutput, "\n"); got != expected {
		return fmt.Errorf("output is %q, expected %q", got, expected)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldHaveLines(n int) error {
	lines := strings.Split(strings.TrimRight(testCtx.LastOutput, "\n"), "\n")
	if len(lines) != n {
		return fmt.Errorf("output has %d lines, expected %d\nActual output: %s", len(lines), n, testCtx.LastOutput)
	}
	return nil
}

// extractJSON returns the output from the first '{' or '['.
func extractJSON(output string) (string, error) {
	output = strings.TrimSpace(output)
	jsonStart := strings.IndexAny(output, "{[")
	if jsonStart == -1 {
		return "", fmt.Errorf("no JSON found in output: %s", output)
	}
	return output[jsonStart:], nil
}

// theOutputShouldBeValidJSON verifies the output is valid JSON.
func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	jsonPart, err := extractJSON(testCtx.LastOutput)
	if err != nil {
		return err
	}
	var js json.RawMessage
	if err := json.Unmarshal([]byte(jsonPart), &js); err != nil {
		return fmt.Errorf("output is not valid JSON: %w\nJSON part: %s", err, jsonPart)
	}
	return nil
}

func (testCtx *TestContext) parseOutputJSON() (any, error) {
	jsonPart, err := extractJSON(testCtx.LastOutput)
	if err != nil {
		return nil, err
	}
	var data any
	if err := json.Unmarshal([]byte(jsonPart), &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return data, nil
}

// theJSONShouldContain verifies JSON contains a specific field.
func (testCtx *TestContext) theJSONShouldContain(field string) error {
	data, err := testCtx.parseOutputJSON()
	if err != nil {
		return err
	}
	_, err = lookupJSONField(data, field)
	return err
}

func (testCtx *TestContext) theJSONFieldShouldBe(field, expected string) error {
	data, err := testCtx.parseOutputJSON()
	if err != nil {
		return err
	}
	return checkJSONValue(data, field, expected)
}

// lookupJSONField follows a dotted path such as "images.0.result.text";
// numeric parts index arrays.
func lookupJSONField(data any, field string) (any, error) {
	parts := strings.Split(field, ".")
	current := data
	for i, part := range parts {
		switch node := current.(type) {
		case map[string]any:
			val, exists := node[part]
			if !exists {
				return nil, fmt.Errorf("field '%s' not found in JSON", strings.Join(parts[:i+1], "."))
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("invalid array index '%s' in '%s'", part, field)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("cannot navigate deeper into non-object field '%s'", strings.Join(parts[:i], "."))
		}
	}
	return current, nil
}

// checkJSONValue compares the field's value in its default text form, so
// numbers read "4" and booleans "true".
func checkJSONValue(data any, field, expected string) error {
	val, err := lookupJSONField(data, field)
	if err != nil {
		return err
	}
	var got string
	switch v := val.(type) {
	case nil:
		got = "null"
	case string:
		got = v
	default:
		got = fmt.Sprint(v)
	}
	if got != expected {
		return fmt.Errorf("field '%s' is %q, expected %q", field, got, expected)
	}
	return nil
}

// theErrorShouldMention verifies the error message contains specific text.
func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastError == nil && testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}

	fullErrorText := testCtx.LastOutput
	if testCtx.LastError != nil {
		fullErrorText += " " + testCtx.LastError.Error()
	}

	if !strings.Contains(strings.ToLower(fullErrorText), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual error: %s", errorText, fullErrorText)
	}
	return nil
}

// theFileShouldExist checks a file relative to the scenario directory.
func (testCtx *TestContext) theFileShouldExist(filename string) error {
	fullPath := testCtx.tempPath(testCtx.substituteCommandVariables(filename))
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", fullPath)
	}
	return nil
}

// theFileShouldContain verifies a file contains specific content.
func (testCtx *TestContext) theFileShouldContain(filename, expectedContent string) error {
	if err := testCtx.theFileShouldExist(filename); err != nil {
		return err
	}

	fullPath := testCtx.tempPath(testCtx.substituteCommandVariables(filename))
	content, err := os.ReadFile(fullPath) //nolint:gosec // G304: Test file reading with controlled path
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", fullPath, err)
	}

	if !strings.Contains(string(content), expectedContent) {
		return fmt.Errorf("file %s does not contain '%s'\nActual content: %s",
			filename, expectedContent, string(content))
	}
	return nil
}
