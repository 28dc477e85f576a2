// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command pulse runs the Pulse feedback-analysis service and exposes its
// gateway operations on the command line.
//
// # Usage
//
//	pulse serve --config pulse.yaml
//	pulse analyze "Yemekler harikaydı ama servis yavaştı"
//	pulse chat "Puanımı nasıl artırırım?"
//	pulse level 2500
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
