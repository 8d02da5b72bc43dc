package criteria

import (
	"github.com/wardenflow/warden/service/dao"
)

// FilterByStatus reports whether an entity with the supplied status field
// matches the listing parameters. With no parameters everything matches.
func FilterByStatus(status string, parameters []*dao.Parameter) bool {
	switch len(parameters) {
	case 0:
		return true
	case 1:
		if parameters[0].Name == "Status" {
			switch actual := parameters[0].Value.(type) {
			case string:
				return status == actual
			case []string:
				for _, s := range actual {
					if status == s {
						return true
					}
				}
				return false
			}
		}
	}
	return true
}
