package language

const (
	pythonImports = `
(module (import_statement) @import)
(module (import_from_statement) @import)
(module (future_import_statement) @import)
`
	pythonDefinitions = `
(module (function_definition name: (identifier) @name) @definition)
(module (class_definition name: (identifier) @name) @definition)
(module (decorated_definition definition: (function_definition name: (identifier) @name)) @definition)
(module (decorated_definition definition: (class_definition name: (identifier) @name)) @definition)
(module (expression_statement (assignment left: (identifier) @name)) @definition)
`

	cIncludes = `
(translation_unit (preproc_include) @import)
`
	cDefinitions = `
(translation_unit (function_definition declarator: (function_declarator declarator: (identifier) @name)) @definition)
(translation_unit (function_definition declarator: (pointer_declarator declarator: (function_declarator declarator: (identifier) @name))) @definition)
(translation_unit (declaration declarator: (init_declarator declarator: (identifier) @name)) @definition)
(translation_unit (declaration declarator: (identifier) @name) @definition)
(translation_unit (type_definition declarator: (type_identifier) @name) @definition)
(translation_unit (preproc_def name: (identifier) @name) @definition)
`

	cppIncludes = `
(translation_unit (preproc_include) @import)
(translation_unit (using_declaration) @import)
`

	goImports = `
(import_spec) @import
`
	goDefinitions = `
(source_file (function_declaration name: (identifier) @name) @definition)
(source_file (method_declaration name: (field_identifier) @member) @definition)
(source_file (type_declaration (type_spec name: (type_identifier) @name)) @definition)
(source_file (var_declaration (var_spec name: (identifier) @name)) @definition)
(source_file (const_declaration (const_spec name: (identifier) @name)) @definition)
`

	javaImports = `
(program (import_declaration) @import)
`
	javaDefinitions = `
(class_body (method_declaration name: (identifier) @name) @definition)
(class_body (field_declaration declarator: (variable_declarator name: (identifier) @name)) @definition)
`

	localIncludePattern = `^\s*#\s*include\s*"([^"]+)"`
)

var cWrapper = `#include <stdio.h>
${imports}
${definitions}
int main(void) {
${code}
return 0;
}
`

var cppWrapper = `#include <iostream>
${imports}
${definitions}
int main() {
${code}
return 0;
}
`

var goWrapper = `package main

${imports}

${definitions}

func main() {
${code}
}
`

var javaWrapper = `${imports}

public class Main {
${definitions}

public static void main(String[] args) throws Exception {
${code}
}
}
`

var rustWrapper = `${imports}
${definitions}
fn main() {
${code}
}
`

// Builtin returns fresh copies of the built-in descriptors.
func Builtin() []*Descriptor {
	table := []Descriptor{
		{
			ID:       "python",
			Aliases:  []string{"python3", "py"},
			Level:    Project,
			MainFile: "main.py",
			Steps: []Step{
				{Args: []string{"python3", "main.py"}, Env: []string{"PYTHONPATH=${project}", "PYTHONDONTWRITEBYTECODE=1"}},
			},
			Grammar:         "python",
			ImportQuery:     pythonImports,
			DefinitionQuery: pythonDefinitions,
			IdentifierTypes: []string{"identifier"},
			MemberFields:    []string{"attribute.attribute"},
			BindingFields:   []string{"keyword_argument.name"},
			ProjectMarkers:  []string{"pyproject.toml", "setup.py", "setup.cfg", "requirements.txt", ".git"},
			SourceGlobs:     []string{"**/*.py"},
		},
		{
			ID:       "c",
			Level:    Project,
			MainFile: "main.c",
			Wrapper:  cWrapper,
			Steps: []Step{
				{Args: []string{"gcc", "-o", "${dir}/main", "main.c"}, Compile: true},
				{Args: []string{"${dir}/main"}},
			},
			Grammar:             "c",
			ImportQuery:         cIncludes,
			DefinitionQuery:     cDefinitions,
			IdentifierTypes:     []string{"identifier", "type_identifier"},
			ReservedNames:       []string{"main"},
			LocalIncludePattern: localIncludePattern,
			ProjectMarkers:      []string{"Makefile", "CMakeLists.txt", "meson.build", "configure.ac", ".git"},
			SourceGlobs:         []string{"**/*.c", "**/*.h"},
		},
		{
			ID:       "cpp",
			Aliases:  []string{"c++", "cxx"},
			Level:    Import,
			MainFile: "main.cpp",
			Wrapper:  cppWrapper,
			Steps: []Step{
				{Args: []string{"g++", "-o", "${dir}/main", "main.cpp"}, Compile: true},
				{Args: []string{"${dir}/main"}},
			},
			Grammar:             "cpp",
			ImportQuery:         cppIncludes,
			IdentifierTypes:     []string{"identifier", "type_identifier"},
			ReservedNames:       []string{"main"},
			LocalIncludePattern: localIncludePattern,
		},
		{
			ID:       "go",
			Aliases:  []string{"golang"},
			Level:    File,
			MainFile: "main.go",
			Wrapper:  goWrapper,
			Steps: []Step{
				{Args: []string{"go", "run", "main.go"}, Env: []string{"GO111MODULE=off"}},
			},
			Grammar:         "go",
			ImportQuery:     goImports,
			ImportFormat:    "import %s",
			PruneImports:    true,
			DefinitionQuery: goDefinitions,
			IdentifierTypes: []string{"identifier", "type_identifier", "field_identifier"},
			MemberFields:    []string{"selector_expression.field"},
			BindingFields:   []string{"field_declaration.name"},
			ReservedNames:   []string{"main", "init"},
		},
		{
			ID:       "java",
			Level:    System,
			MainFile: "Main.java",
			Wrapper:  javaWrapper,
			Steps: []Step{
				{Args: []string{"javac", "-cp", "${classpath}", "-d", "${dir}", "Main.java"}, Compile: true},
				{Args: []string{"java", "-cp", "${classpath}", "Main"}},
			},
			Grammar:           "java",
			ImportQuery:       javaImports,
			DefinitionQuery:   javaDefinitions,
			IdentifierTypes:   []string{"identifier", "type_identifier"},
			ReservedNames:     []string{"main"},
			ProjectMarkers:    []string{"pom.xml", "build.gradle", "build.gradle.kts", "settings.gradle", ".git"},
			SourceGlobs:       []string{"**/*.java"},
			LibraryGlobs:      []string{"lib/**/*.jar", "libs/**/*.jar", "target/dependency/*.jar"},
			SystemLibraryGlob: "*.jar",
		},
		{
			ID:       "rust",
			Aliases:  []string{"rs", "rust-lang"},
			Level:    Bloc,
			MainFile: "main.rs",
			Wrapper:  rustWrapper,
			Steps: []Step{
				{Args: []string{"rustc", "-O", "--out-dir", "${dir}", "main.rs"}, Compile: true},
				{Args: []string{"${dir}/main"}},
			},
		},
		{
			ID:       "javascript",
			Aliases:  []string{"js", "node"},
			Level:    Bloc,
			MainFile: "main.js",
			Steps:    []Step{{Args: []string{"node", "main.js"}}},
		},
		{
			ID:       "ruby",
			Aliases:  []string{"rb"},
			Level:    Bloc,
			MainFile: "main.rb",
			Steps:    []Step{{Args: []string{"ruby", "main.rb"}}},
		},
		{
			ID:       "bash",
			Aliases:  []string{"sh"},
			Level:    Bloc,
			MainFile: "main.sh",
			Steps:    []Step{{Args: []string{"bash", "main.sh"}}},
		},
		{
			ID:       "lua",
			Level:    Line,
			MainFile: "main.lua",
			Steps:    []Step{{Args: []string{"lua", "main.lua"}}},
		},
	}

	out := make([]*Descriptor, len(table))
	for i := range table {
		out[i] = table[i].clone()
	}
	return out
}
