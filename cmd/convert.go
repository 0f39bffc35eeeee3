// elPolish: a high-performance tool for polishing long-read consensus sequences.
// Copyright (c) 2022 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elpolish/blob/master/LICENSE.txt>.

package cmd

import (
	"fmt"
	"os"

	"github.com/exascience/elpolish/fasta"
)

// FastaToElfastaHelp is the help string for this command.
const FastaToElfastaHelp = "\nfasta-to-elfasta parameters:\n" +
	"elpolish fasta-to-elfasta fasta-file elfasta-file\n"

// FastaToElfasta implements the elpolish fasta-to-elfasta command,
// converting draft templates into the mmappable .elfasta format.
func FastaToElfasta() error {
	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, FastaToElfastaHelp)
		os.Exit(1)
	}
	input := getFilename(os.Args[2], FastaToElfastaHelp)
	output := getFilename(os.Args[3], FastaToElfastaHelp)
	fasta.ToElfasta(fasta.ParseFasta(input), output)
	return nil
}
