package environment

import (
	"github.com/joho/godotenv"

	"github.com/cmakekit/cmakekit/pkg/utils"
)

// Reads a dotenv file into an Overlay. The file format is the usual NAME=value lines with
// optional quoting and # comments
func LoadDotenv(path string) (Overlay, error) {
	values, err := godotenv.Read(path)

	if err != nil {
		return nil, utils.MakeError(err, "cannot read environment file %v", path)
	}

	return OverlayFromMap(values), nil
}
