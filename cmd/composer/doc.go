// Copyright (c) Composer Authors.
// Licensed under the MIT License.

/*
Command composer runs the adaptive task orchestration service.

	composer serve                      start the HTTP server
	composer serve --config conf.yaml   start with a config file
	composer migrate up                 apply pending schema migrations
	composer health                     probe a running server
	composer version                    print build information
*/
package main
