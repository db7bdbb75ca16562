// Package banner prints the startup banner.
package banner

import "fmt"

// Logo is the ASCII art logo.
const Logo = `
   ██╗███████╗███████╗██╗   ██╗███████╗██████╗  ██████╗ ████████╗
   ██║██╔════╝██╔════╝██║   ██║██╔════╝██╔══██╗██╔═══██╗╚══██╔══╝
   ██║███████╗███████╗██║   ██║█████╗  ██████╔╝██║   ██║   ██║
   ██║╚════██║╚════██║██║   ██║██╔══╝  ██╔══██╗██║   ██║   ██║
   ██║███████║███████║╚██████╔╝███████╗██████╔╝╚██████╔╝   ██║
   ╚═╝╚══════╝╚══════╝ ╚═════╝ ╚══════╝╚═════╝  ╚═════╝    ╚═╝
`

// Tagline is the project tagline.
const Tagline = "Autonomous issue resolution"

// Print prints the logo with tagline.
func Print() {
	fmt.Print(Logo)
	fmt.Printf("   %s\n\n", Tagline)
}

// Startup prints the full startup banner.
func Startup(version, gateway string, repos int) {
	fmt.Print(Logo)
	fmt.Printf("   %s\n", Tagline)
	fmt.Println()
	fmt.Printf("   Version:  v%s\n", version)
	fmt.Printf("   Gateway:  http://%s\n", gateway)
	fmt.Printf("   Repos:    %d\n", repos)
	fmt.Println()
}
