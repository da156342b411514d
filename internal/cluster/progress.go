// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cluster

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	progressOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	progressFail = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	progressDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// progressBar reports local-pool completion. TTY-detected animation falls
// back to one line per completed run when stdout isn't a terminal,
// simplified for a pool of identical run-id tasks rather than named
// workflow steps.
type progressBar struct {
	mu        sync.Mutex
	isTTY     bool
	total     int
	completed int
	failed    int
}

func newProgressBar(total int) *progressBar {
	return &progressBar{isTTY: term.IsTerminal(int(os.Stdout.Fd())), total: total}
}

func (p *progressBar) done(runID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	if err != nil {
		p.failed++
	}

	if p.isTTY {
		fmt.Print("\r\033[K" + p.render())
		return
	}

	symbol := progressOK.Render("✓")
	if err != nil {
		symbol = progressFail.Render("✗")
	}
	fmt.Printf("%s %s (%d/%d)\n", symbol, runID, p.completed, p.total)
}

func (p *progressBar) render() string {
	status := fmt.Sprintf("%d/%d complete", p.completed, p.total)
	if p.failed > 0 {
		status += " " + progressFail.Render(fmt.Sprintf("(%d failed)", p.failed))
	}
	return status
}

func (p *progressBar) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isTTY {
		fmt.Println()
	}
	fmt.Println(progressDim.Render(p.render()))
}
