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

package shared

import "github.com/AlecAivazis/survey/v2"

// ConfirmDestructive prompts the operator before an action that is
// expensive or hard to undo (e.g. submitting a Slurm job array). assumeYes
// skips the prompt, answering true unconditionally, for scripted use.
func ConfirmDestructive(message string, assumeYes bool) (bool, error) {
	if assumeYes {
		return true, nil
	}
	ok := false
	prompt := &survey.Confirm{Message: message, Default: false}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	return ok, nil
}
