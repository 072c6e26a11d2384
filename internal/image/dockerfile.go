// SPDX-License-Identifier: MPL-2.0

package image

import (
	"bufio"
	"encoding/json"
	"slices"
	"strings"
)

// Instruction is one logical Dockerfile instruction with continuation lines joined.
type Instruction struct {
	// Line is the 1-based line the instruction starts on.
	Line int
	// Command is the upper-cased instruction keyword.
	Command string
	// Flags are the leading --name[=value] options.
	Flags map[string]string
	// Args is the remainder after Command and Flags.
	Args string
	// Exec holds the parsed exec form when Args is a JSON array.
	Exec []string
}

// ParseDockerfile splits content into instructions. Comment lines, blank
// lines and parser directives are skipped.
func ParseDockerfile(content string) []Instruction {
	var (
		out   []Instruction
		buf   strings.Builder
		start int
	)
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(text, "#") || (text == "" && buf.Len() == 0) {
			continue
		}
		if buf.Len() == 0 {
			start = line
		}
		if cont, ok := strings.CutSuffix(text, `\`); ok {
			buf.WriteString(strings.TrimSpace(cont))
			buf.WriteByte(' ')
			continue
		}
		buf.WriteString(text)
		if ins, ok := parseInstruction(start, buf.String()); ok {
			out = append(out, ins)
		}
		buf.Reset()
	}
	if buf.Len() > 0 {
		if ins, ok := parseInstruction(start, buf.String()); ok {
			out = append(out, ins)
		}
	}
	return out
}

func parseInstruction(line int, text string) (Instruction, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Instruction{}, false
	}
	cmd, rest, _ := strings.Cut(text, " ")
	ins := Instruction{Line: line, Command: strings.ToUpper(cmd), Flags: map[string]string{}}
	rest = strings.TrimSpace(rest)

	for strings.HasPrefix(rest, "--") {
		flag, tail, _ := strings.Cut(rest, " ")
		name, value, _ := strings.Cut(strings.TrimPrefix(flag, "--"), "=")
		ins.Flags[name] = value
		rest = strings.TrimSpace(tail)
	}
	ins.Args = rest
	ins.Exec = parseExecForm(rest)
	return ins, true
}

func parseExecForm(s string) []string {
	if !strings.HasPrefix(s, "[") {
		return nil
	}
	var words []string
	if err := json.Unmarshal([]byte(s), &words); err != nil {
		return nil
	}
	return words
}

// CommandLine returns the instruction's command as a single string, joining
// the exec form with spaces.
func (i Instruction) CommandLine() string {
	if i.Exec != nil {
		return strings.Join(i.Exec, " ")
	}
	return i.Args
}

// Sources returns the source operands of a COPY or ADD instruction.
func (i Instruction) Sources() []string {
	words := i.Exec
	if words == nil {
		words = strings.Fields(i.Args)
	}
	if len(words) < 2 {
		return nil
	}
	return words[:len(words)-1]
}

// Destination returns the destination operand of a COPY or ADD instruction.
func (i Instruction) Destination() string {
	words := i.Exec
	if words == nil {
		words = strings.Fields(i.Args)
	}
	if len(words) == 0 {
		return ""
	}
	return words[len(words)-1]
}

// Stage is one build stage: its FROM instruction and everything up to the
// next FROM.
type Stage struct {
	// Name is the AS alias, or empty.
	Name string
	// Base is the image or earlier stage the stage starts from.
	Base         string
	Instructions []Instruction
}

// SplitStages groups instructions by FROM. Instructions before the first
// FROM (global ARGs) belong to no stage.
func SplitStages(ins []Instruction) []Stage {
	var stages []Stage
	for _, i := range ins {
		if i.Command == "FROM" {
			words := strings.Fields(i.Args)
			st := Stage{}
			if len(words) > 0 {
				st.Base = words[0]
			}
			if len(words) >= 3 && strings.EqualFold(words[1], "AS") {
				st.Name = words[2]
			}
			stages = append(stages, st)
		}
		if len(stages) > 0 {
			cur := &stages[len(stages)-1]
			cur.Instructions = append(cur.Instructions, i)
		}
	}
	return stages
}

// FinalImage returns the instructions that shape the image the last stage
// produces: the last stage's own instructions preceded by those of every
// earlier stage it builds FROM. Without any FROM it returns ins unchanged.
func FinalImage(ins []Instruction) []Instruction {
	stages := SplitStages(ins)
	if len(stages) == 0 {
		return ins
	}
	idx := len(stages) - 1
	chain := stages[idx].Instructions
	for {
		parent := -1
		for j := idx - 1; j >= 0; j-- {
			if stages[j].Name != "" && strings.EqualFold(stages[j].Name, stages[idx].Base) {
				parent = j
				break
			}
		}
		if parent < 0 {
			return chain
		}
		chain = append(slices.Clone(stages[parent].Instructions), chain...)
		idx = parent
	}
}
