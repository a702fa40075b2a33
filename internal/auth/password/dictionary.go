package password

// weakPasswords is a small embedded sample of the most commonly breached
// passwords. CheckStrength rejects any candidate found here outright,
// regardless of length or character-class score.
var weakPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"123456":      {},
	"123456789":   {},
	"12345678":    {},
	"qwerty":      {},
	"qwerty123":   {},
	"letmein":     {},
	"welcome":     {},
	"welcome1":    {},
	"admin":       {},
	"admin123":    {},
	"iloveyou":    {},
	"monkey":      {},
	"dragon":      {},
	"football":    {},
	"baseball":    {},
	"abc123":      {},
	"trustno1":    {},
	"sunshine":    {},
	"master":      {},
	"superman":    {},
	"princess":    {},
	"changeme":    {},
	"letmein123":  {},
	"passw0rd":    {},
	"p@ssw0rd":    {},
}
