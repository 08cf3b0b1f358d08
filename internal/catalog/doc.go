// Package catalog loads, validates and caches per-language message catalogs.
//
// Language files live in one directory as <language>.json (or .yaml):
//
//	{
//	  "MessagePrefix": "{green}100Bible {0}: {white}{1}",
//	  "Messages": [ { "Id": 1, "Text": "..." } ]
//	}
package catalog
