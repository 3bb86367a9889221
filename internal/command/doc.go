// Package command provides controlled execution of external helper programs.
//
// The download fallback shells out to a scraper script; its result is read
// from stdout while stderr is kept for diagnostics. Direct use of os/exec
// elsewhere in the module is avoided so every subprocess gets a timeout.
//
// Basic usage:
//
//	res, err := command.Run(ctx, "python3", "scrap.py", appID)
//
//	// With a working directory and a custom timeout
//	res, err := command.NewCommand("python3", "scrap.py", appID).
//	    WithDir(helperDir).
//	    WithTimeout(10 * time.Minute).
//	    WithContext(ctx).
//	    Run()
package command
